package quotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotedesk/quotedesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the quotation engine.
// Every mutation that allocates a number must run through WithTx so the row
// lock, insert and number assignment commit or roll back as one unit.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Quotation, error)
	GetByNumber(ctx context.Context, quotationNo string) (*Quotation, error)
	List(ctx context.Context, req ListRequest) ([]ListedQuotation, int, error)
	Insert(ctx context.Context, q Quotation) (int64, error)
	InsertItems(ctx context.Context, quotationID int64, items []Item) error
	DeleteItems(ctx context.Context, quotationID int64) error
	SetNumber(ctx context.Context, id int64, quotationNo string) error
	Update(ctx context.Context, id int64, updates map[string]interface{}) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	LockForUpdate(ctx context.Context, id int64) (*Quotation, error)
	LatestNumberInPartition(ctx context.Context, prefix string) (string, error)
	HasSuccessor(ctx context.Context, id int64) (bool, error)
	InsertDecision(ctx context.Context, rec DecisionRecord) (int64, error)
	LatestDecision(ctx context.Context, quotationID int64) (*DecisionRecord, error)
	ListDecisions(ctx context.Context, quotationID int64) ([]DecisionRecord, error)
	InsertVersion(ctx context.Context, v Version) (int64, error)
	ListVersions(ctx context.Context, quotationID int64) ([]Version, error)
	SoftDelete(ctx context.Context, id, deletedBy int64) error
	StatusRows(ctx context.Context, salespersonID *int64) ([]StatusRow, error)
}

// StatusRow carries the minimum needed to evaluate validity for summaries.
type StatusRow struct {
	Status        Status
	QuotationDate pgtype.Date
	ValidityDays  int
	TotalValue    float64
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// IsUniqueViolation reports whether err is a duplicate-key failure, e.g. two
// first-of-partition allocators racing for the same quotation_no.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const quotationColumns = `
	id, quotation_no, salesperson_id, customer_id, customer_snapshot,
	quotation_date, validity_days, status, subtotal, total_discount,
	tax_total, total_value, version_major, version_minor, reissued_from_id,
	notes, created_by, is_deleted, deleted_at, deleted_by, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM quotations WHERE id = $1 AND NOT is_deleted`, quotationColumns), id)
	return r.scanWithItems(ctx, row)
}

func (r *repository) GetByNumber(ctx context.Context, quotationNo string) (*Quotation, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM quotations WHERE quotation_no = $1 AND NOT is_deleted`, quotationColumns), quotationNo)
	return r.scanWithItems(ctx, row)
}

// LockForUpdate loads a quotation under an exclusive row lock. Only valid
// inside a transaction; concurrent re-issues of the same source serialize
// here.
func (r *repository) LockForUpdate(ctx context.Context, id int64) (*Quotation, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM quotations WHERE id = $1 AND NOT is_deleted FOR UPDATE`, quotationColumns), id)
	return r.scanWithItems(ctx, row)
}

func (r *repository) scanWithItems(ctx context.Context, row pgx.Row) (*Quotation, error) {
	q, err := scanQuotation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := r.itemsFor(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	q.Items = items
	return q, nil
}

func (r *repository) itemsFor(ctx context.Context, quotationID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, product_id, description, quantity, uom,
		       unit_price, discount_percent, discount_amount, tax_percent,
		       tax_amount, line_total, line_order
		FROM quotation_items
		WHERE quotation_id = $1
		ORDER BY line_order, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var description pgtype.Text
		var quantity, unitPrice, discountPct, discountAmt, taxPct, taxAmt, lineTotal pgtype.Numeric
		var lineOrder int32
		if err := rows.Scan(
			&it.ID, &it.QuotationID, &it.ProductID, &description, &quantity, &it.UOM,
			&unitPrice, &discountPct, &discountAmt, &taxPct, &taxAmt, &lineTotal, &lineOrder,
		); err != nil {
			return nil, err
		}
		if description.Valid {
			val := description.String
			it.Description = &val
		}
		it.Quantity = numericFloat(quantity)
		it.UnitPrice = numericFloat(unitPrice)
		it.DiscountPercent = numericFloat(discountPct)
		it.DiscountAmount = numericFloat(discountAmt)
		it.TaxPercent = numericFloat(taxPct)
		it.TaxAmount = numericFloat(taxAmt)
		it.LineTotal = numericFloat(lineTotal)
		it.LineOrder = int(lineOrder)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]ListedQuotation, int, error) {
	conditions := []string{"NOT q.is_deleted"}
	var args []interface{}
	argPos := 1

	if req.SalespersonID != nil {
		conditions = append(conditions, fmt.Sprintf("q.salesperson_id = $%d", argPos))
		args = append(args, *req.SalespersonID)
		argPos++
	}
	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("q.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("q.status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("q.quotation_date >= $%d", argPos))
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("q.quotation_date <= $%d", argPos))
		args = append(args, *req.DateTo)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM quotations q %s", whereClause)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT q.id, q.quotation_no, q.salesperson_id, q.customer_id,
		       q.quotation_date, q.validity_days, q.status,
		       q.subtotal, q.total_discount, q.tax_total, q.total_value,
		       q.version_major, q.version_minor, q.reissued_from_id,
		       q.created_at, q.updated_at,
		       c.name AS customer_name,
		       u.full_name AS salesperson_name
		FROM quotations q
		JOIN customers c ON q.customer_id = c.id
		JOIN users u ON q.salesperson_id = u.id
		%s
		ORDER BY q.quotation_date DESC, q.id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []ListedQuotation
	for rows.Next() {
		var lq ListedQuotation
		var quotationNo pgtype.Text
		var quotationDate pgtype.Date
		var subtotal, totalDiscount, taxTotal, totalValue pgtype.Numeric
		var reissuedFrom pgtype.Int8
		var createdAt, updatedAt pgtype.Timestamptz

		if err := rows.Scan(
			&lq.ID, &quotationNo, &lq.SalespersonID, &lq.CustomerID,
			&quotationDate, &lq.ValidityDays, &lq.Status,
			&subtotal, &totalDiscount, &taxTotal, &totalValue,
			&lq.VersionMajor, &lq.VersionMinor, &reissuedFrom,
			&createdAt, &updatedAt,
			&lq.CustomerName, &lq.SalespersonName,
		); err != nil {
			return nil, 0, err
		}
		if quotationNo.Valid {
			val := quotationNo.String
			lq.QuotationNo = &val
		}
		if quotationDate.Valid {
			lq.QuotationDate = quotationDate.Time
		}
		lq.Subtotal = numericFloat(subtotal)
		lq.TotalDiscount = numericFloat(totalDiscount)
		lq.TaxTotal = numericFloat(taxTotal)
		lq.TotalValue = numericFloat(totalValue)
		if reissuedFrom.Valid {
			val := reissuedFrom.Int64
			lq.ReissuedFromID = &val
		}
		if createdAt.Valid {
			lq.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			lq.UpdatedAt = updatedAt.Time
		}
		result = append(result, lq)
	}
	return result, total, rows.Err()
}

// Insert creates the quotation row with quotation_no left NULL; the number is
// assigned afterwards via SetNumber inside the same transaction.
func (r *repository) Insert(ctx context.Context, q Quotation) (int64, error) {
	snapshot, err := json.Marshal(q.CustomerSnapshot)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO quotations (
			salesperson_id, customer_id, customer_snapshot, quotation_date,
			validity_days, status, subtotal, total_discount, tax_total,
			total_value, version_major, version_minor, reissued_from_id,
			notes, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		q.SalespersonID, q.CustomerID, snapshot, dateArg(q.QuotationDate),
		q.ValidityDays, q.Status, q.Subtotal, q.TotalDiscount, q.TaxTotal,
		q.TotalValue, q.VersionMajor, q.VersionMinor, int8Arg(q.ReissuedFromID),
		textArg(q.Notes), q.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertItems(ctx context.Context, quotationID int64, items []Item) error {
	for i, item := range items {
		order := item.LineOrder
		if order == 0 {
			order = i + 1
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO quotation_items (
				quotation_id, product_id, description, quantity, uom,
				unit_price, discount_percent, discount_amount, tax_percent,
				tax_amount, line_total, line_order
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			quotationID, item.ProductID, textArg(item.Description), item.Quantity,
			item.UOM, item.UnitPrice, item.DiscountPercent, item.DiscountAmount,
			item.TaxPercent, item.TaxAmount, item.LineTotal, order,
		)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return nil
}

func (r *repository) DeleteItems(ctx context.Context, quotationID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM quotation_items WHERE quotation_id = $1`, quotationID)
	return err
}

// SetNumber assigns the business key exactly once. The partial unique index
// on quotation_no rejects duplicates from racing first-of-partition inserts.
func (r *repository) SetNumber(ctx context.Context, id int64, quotationNo string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET quotation_no = $1, updated_at = NOW()
		WHERE id = $2 AND quotation_no IS NULL`, quotationNo, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation %d: number already assigned", id)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	query := "UPDATE quotations SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	for _, col := range []string{
		"validity_days", "notes", "subtotal", "total_discount",
		"tax_total", "total_value", "version_minor",
	} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d AND NOT is_deleted", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET status = $1, updated_at = NOW()
		WHERE id = $2 AND NOT is_deleted`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestNumberInPartition returns the newest assigned number matching the
// prefix, locking that row until the enclosing transaction finishes. Returns
// "" when the partition is empty, in which case nothing is locked.
func (r *repository) LatestNumberInPartition(ctx context.Context, prefix string) (string, error) {
	var quotationNo string
	err := r.db.QueryRow(ctx, `
		SELECT quotation_no FROM quotations
		WHERE quotation_no LIKE $1 || '%'
		ORDER BY id DESC
		LIMIT 1
		FOR UPDATE`, prefix).Scan(&quotationNo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return quotationNo, nil
}

func (r *repository) HasSuccessor(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM quotations WHERE reissued_from_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *repository) InsertDecision(ctx context.Context, rec DecisionRecord) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotation_decisions (quotation_id, decision, comment, decided_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		rec.QuotationID, rec.Decision, textArg(rec.Comment), rec.DecidedBy,
	).Scan(&id)
	return id, err
}

func (r *repository) LatestDecision(ctx context.Context, quotationID int64) (*DecisionRecord, error) {
	rec, err := scanDecision(r.db.QueryRow(ctx, `
		SELECT id, quotation_id, decision, comment, decided_by, decided_at
		FROM quotation_decisions
		WHERE quotation_id = $1
		ORDER BY id DESC
		LIMIT 1`, quotationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *repository) ListDecisions(ctx context.Context, quotationID int64) ([]DecisionRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, decision, comment, decided_by, decided_at
		FROM quotation_decisions
		WHERE quotation_id = $1
		ORDER BY id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *repository) InsertVersion(ctx context.Context, v Version) (int64, error) {
	items, err := json.Marshal(v.Items)
	if err != nil {
		return 0, fmt.Errorf("marshal version items: %w", err)
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO quotation_versions (
			quotation_id, major, minor, items, subtotal, total_discount,
			tax_total, total_value, change_comment, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		v.QuotationID, v.Major, v.Minor, items, v.Subtotal, v.TotalDiscount,
		v.TaxTotal, v.TotalValue, textArg(v.ChangeComment), v.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *repository) ListVersions(ctx context.Context, quotationID int64) ([]Version, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quotation_id, major, minor, items, subtotal, total_discount,
		       tax_total, total_value, change_comment, created_by, created_at
		FROM quotation_versions
		WHERE quotation_id = $1
		ORDER BY major, minor`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var items []byte
		var subtotal, totalDiscount, taxTotal, totalValue pgtype.Numeric
		var comment pgtype.Text
		var createdAt pgtype.Timestamptz
		if err := rows.Scan(
			&v.ID, &v.QuotationID, &v.Major, &v.Minor, &items,
			&subtotal, &totalDiscount, &taxTotal, &totalValue,
			&comment, &v.CreatedBy, &createdAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &v.Items); err != nil {
			return nil, fmt.Errorf("unmarshal version items: %w", err)
		}
		v.Subtotal = numericFloat(subtotal)
		v.TotalDiscount = numericFloat(totalDiscount)
		v.TaxTotal = numericFloat(taxTotal)
		v.TotalValue = numericFloat(totalValue)
		if comment.Valid {
			val := comment.String
			v.ChangeComment = &val
		}
		if createdAt.Valid {
			v.CreatedAt = createdAt.Time
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *repository) SoftDelete(ctx context.Context, id, deletedBy int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations
		SET is_deleted = TRUE, deleted_at = NOW(), deleted_by = $1, updated_at = NOW()
		WHERE id = $2 AND NOT is_deleted`, deletedBy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) StatusRows(ctx context.Context, salespersonID *int64) ([]StatusRow, error) {
	query := `
		SELECT status, quotation_date, validity_days, total_value
		FROM quotations
		WHERE NOT is_deleted`
	var args []interface{}
	if salespersonID != nil {
		query += " AND salesperson_id = $1"
		args = append(args, *salespersonID)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusRow
	for rows.Next() {
		var sr StatusRow
		var totalValue pgtype.Numeric
		if err := rows.Scan(&sr.Status, &sr.QuotationDate, &sr.ValidityDays, &totalValue); err != nil {
			return nil, err
		}
		sr.TotalValue = numericFloat(totalValue)
		result = append(result, sr)
	}
	return result, rows.Err()
}

// ============================================================================
// SCAN HELPERS
// ============================================================================

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	var quotationNo pgtype.Text
	var snapshot []byte
	var quotationDate pgtype.Date
	var subtotal, totalDiscount, taxTotal, totalValue pgtype.Numeric
	var reissuedFrom, deletedBy pgtype.Int8
	var notes pgtype.Text
	var deletedAt, createdAt, updatedAt pgtype.Timestamptz

	err := row.Scan(
		&q.ID, &quotationNo, &q.SalespersonID, &q.CustomerID, &snapshot,
		&quotationDate, &q.ValidityDays, &q.Status, &subtotal, &totalDiscount,
		&taxTotal, &totalValue, &q.VersionMajor, &q.VersionMinor, &reissuedFrom,
		&notes, &q.CreatedBy, &q.IsDeleted, &deletedAt, &deletedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if quotationNo.Valid {
		val := quotationNo.String
		q.QuotationNo = &val
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &q.CustomerSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	if quotationDate.Valid {
		q.QuotationDate = quotationDate.Time
	}
	q.Subtotal = numericFloat(subtotal)
	q.TotalDiscount = numericFloat(totalDiscount)
	q.TaxTotal = numericFloat(taxTotal)
	q.TotalValue = numericFloat(totalValue)
	if reissuedFrom.Valid {
		val := reissuedFrom.Int64
		q.ReissuedFromID = &val
	}
	if notes.Valid {
		val := notes.String
		q.Notes = &val
	}
	if deletedAt.Valid {
		val := deletedAt.Time
		q.DeletedAt = &val
	}
	if deletedBy.Valid {
		val := deletedBy.Int64
		q.DeletedBy = &val
	}
	if createdAt.Valid {
		q.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		q.UpdatedAt = updatedAt.Time
	}
	return &q, nil
}

func scanDecision(row pgx.Row) (*DecisionRecord, error) {
	var rec DecisionRecord
	var comment pgtype.Text
	var decidedAt pgtype.Timestamptz
	if err := row.Scan(&rec.ID, &rec.QuotationID, &rec.Decision, &comment, &rec.DecidedBy, &decidedAt); err != nil {
		return nil, err
	}
	if comment.Valid {
		val := comment.String
		rec.Comment = &val
	}
	if decidedAt.Valid {
		rec.DecidedAt = decidedAt.Time
	}
	return &rec, nil
}

func numericFloat(n pgtype.Numeric) float64 {
	if !n.Valid {
		return 0
	}
	f, _ := n.Float64Value()
	return f.Float64
}

func textArg(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func int8Arg(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func dateArg(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t, Valid: true}
}
