package quotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quotedesk/quotedesk/internal/masterdata/customers"
	"github.com/quotedesk/quotedesk/internal/masterdata/products"
	"github.com/quotedesk/quotedesk/internal/shared"
)

var (
	ErrNotFound = errors.New("quotation not found")
	// ErrValidation flags a request rejected before any transaction opens.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyDecided guards the terminal won/lost states.
	ErrAlreadyDecided = errors.New("quotation already decided")
	// ErrExpired rejects decide/edit on a quotation past its validity window.
	ErrExpired = errors.New("quotation expired")
	// ErrNotExpired rejects re-issue while the validity window is still open.
	ErrNotExpired = errors.New("quotation not expired")
	// ErrAlreadyReissued enforces at-most-once re-issue per source.
	ErrAlreadyReissued = errors.New("quotation already reissued")
)

// SalespersonDirectory resolves the owner of a deal, supplied by the auth
// collaborator.
type SalespersonDirectory interface {
	GetSalesperson(ctx context.Context, id int64) (*Salesperson, error)
}

// AllocationObserver counts successful quotation number allocations, keyed by
// fiscal year code. Satisfied by observability.Metrics.
type AllocationObserver interface {
	ObserveNumberAllocated(fiscalYear string)
}

// Service orchestrates the quotation lifecycle: number issuance, totals,
// decisions and re-issue. Each operation runs inside a single transaction;
// there is no partial-success state.
type Service struct {
	repo         Repository
	customerRepo customers.Repository
	productRepo  products.Repository
	salespeople  SalespersonDirectory
	audit        *shared.AuditLogger
	allocations  AllocationObserver
	now          func() time.Time
}

func NewService(
	repo Repository,
	customerRepo customers.Repository,
	productRepo products.Repository,
	salespeople SalespersonDirectory,
	audit *shared.AuditLogger,
	allocations AllocationObserver,
) *Service {
	return &Service{
		repo:         repo,
		customerRepo: customerRepo,
		productRepo:  productRepo,
		salespeople:  salespeople,
		audit:        audit,
		allocations:  allocations,
		now:          time.Now,
	}
}

// Create validates references, computes totals, captures the customer
// snapshot, then inserts the row and assigns its number in one transaction.
// The insert-then-number pattern means the business key only ever points at a
// committed row.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (*Quotation, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}

	status := StatusDraft
	if req.Status != nil {
		if *req.Status != StatusDraft && *req.Status != StatusPending {
			return nil, fmt.Errorf("%w: initial status must be draft or pending", ErrValidation)
		}
		status = *req.Status
	}

	customer, err := s.customerRepo.Get(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, customers.ErrNotFound) {
			return nil, fmt.Errorf("%w: customer %d", ErrValidation, req.CustomerID)
		}
		return nil, fmt.Errorf("verify customer: %w", err)
	}
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name missing", ErrValidation)
	}

	for _, item := range req.Items {
		ok, err := s.productRepo.Exists(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("verify product: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: product %d", ErrValidation, item.ProductID)
		}
	}

	salesperson, err := s.resolveSalesperson(ctx, req.SalespersonID, actorID)
	if err != nil {
		return nil, err
	}

	quotationDate := truncateToDate(s.now())
	if req.QuotationDate != nil {
		quotationDate = truncateToDate(*req.QuotationDate)
	}
	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = DefaultValidityDays
	}

	items, totals := ComputeTotals(itemsFromRequests(req.Items))

	q := Quotation{
		SalespersonID:    salesperson.ID,
		CustomerID:       customer.ID,
		CustomerSnapshot: snapshotOf(customer),
		QuotationDate:    quotationDate,
		ValidityDays:     validityDays,
		Status:           status,
		Subtotal:         totals.Subtotal,
		TotalDiscount:    totals.TotalDiscount,
		TaxTotal:         totals.TaxTotal,
		TotalValue:       totals.GrandTotal,
		VersionMajor:     1,
		VersionMinor:     0,
		Notes:            req.Notes,
		CreatedBy:        actorID,
	}

	id, err := s.insertNumbered(ctx, q, items, salesperson.Initials, quotationDate)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "quotation.create", id)
	return s.repo.Get(ctx, id)
}

// insertNumbered inserts the row, allocates a sequence and writes the number
// back, all in one transaction. A duplicate quotation_no (two first-of-year
// allocators both computing sequence 1) rolls everything back and is retried
// exactly once with a fresh allocation.
func (s *Service) insertNumbered(ctx context.Context, q Quotation, items []Item, initials string, numberDate time.Time) (int64, error) {
	fyCode := FiscalYearCode(numberDate)

	attempt := func() (int64, error) {
		var id int64
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			var err error
			id, err = tx.Insert(ctx, q)
			if err != nil {
				return fmt.Errorf("insert quotation: %w", err)
			}
			if err := tx.InsertItems(ctx, id, items); err != nil {
				return err
			}
			seq, err := NextSequence(ctx, tx, fyCode, initials)
			if err != nil {
				return err
			}
			if err := tx.SetNumber(ctx, id, FormatNumber(fyCode, initials, seq)); err != nil {
				return fmt.Errorf("assign number: %w", err)
			}
			return nil
		})
		return id, err
	}

	id, err := attempt()
	if IsUniqueViolation(err) {
		id, err = attempt()
	}
	if err == nil {
		s.observeAllocation(fyCode)
	}
	return id, err
}

// PreviewNumber computes the next number for the actor's partition without
// consuming it: the allocation runs in a transaction that is always rolled
// back, so the row lock is released and nothing is reserved.
func (s *Service) PreviewNumber(ctx context.Context, salespersonID *int64, actorID int64) (string, error) {
	salesperson, err := s.resolveSalesperson(ctx, salespersonID, actorID)
	if err != nil {
		return "", err
	}
	fyCode := FiscalYearCode(s.now())

	var number string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		seq, err := NextSequence(ctx, tx, fyCode, salesperson.Initials)
		if err != nil {
			return err
		}
		number = FormatNumber(fyCode, salesperson.Initials, seq)
		return errPreviewRollback
	})
	if err != nil && !errors.Is(err, errPreviewRollback) {
		return "", err
	}
	return number, nil
}

// errPreviewRollback aborts the preview transaction after the allocation has
// been observed.
var errPreviewRollback = errors.New("preview rollback")

// Decide records a won/lost determination. The row is locked and the guards
// re-checked inside the transaction, so concurrent decisions serialize and
// exactly one wins: closed quotations are terminal and expired quotations
// must be re-issued before a decision can be recorded. The decision append
// and status update commit atomically.
func (s *Service) Decide(ctx context.Context, id int64, req DecideRequest, actorID int64) (*Quotation, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if q.Closed() {
			return fmt.Errorf("%w: status is %s", ErrAlreadyDecided, q.Status)
		}
		if v := EvaluateValidity(q.QuotationDate, q.ValidityDays, s.now()); v.State == ValidityExpired {
			return fmt.Errorf("%w: re-issue before deciding", ErrExpired)
		}
		if _, err := tx.InsertDecision(ctx, DecisionRecord{
			QuotationID: id,
			Decision:    req.Decision,
			Comment:     req.Comment,
			DecidedBy:   actorID,
		}); err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
		return tx.UpdateStatus(ctx, id, Status(req.Decision))
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actorID, "quotation.decide."+string(req.Decision), id)
	return s.repo.Get(ctx, id)
}

// Reissue supersedes an expired quotation with a brand-new one. The source is
// locked, validated and left byte-for-byte unmodified; only the child carries
// the link via reissued_from_id. Initials and fiscal year are re-derived from
// the current date, not the source's.
func (s *Service) Reissue(ctx context.Context, id int64, req ReissueRequest, actorID int64) (*Quotation, error) {
	today := truncateToDate(s.now())
	fyCode := FiscalYearCode(today)
	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = DefaultValidityDays
	}

	attempt := func() (int64, error) {
		var newID int64
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			src, err := tx.LockForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if src.Closed() {
				return fmt.Errorf("%w: source is %s", ErrAlreadyDecided, src.Status)
			}
			if v := EvaluateValidity(src.QuotationDate, src.ValidityDays, s.now()); v.State != ValidityExpired {
				return fmt.Errorf("%w: validity state is %s", ErrNotExpired, v.State)
			}
			reissued, err := tx.HasSuccessor(ctx, id)
			if err != nil {
				return err
			}
			if reissued {
				return ErrAlreadyReissued
			}

			salesperson, err := s.salespeople.GetSalesperson(ctx, src.SalespersonID)
			if err != nil {
				return fmt.Errorf("resolve salesperson: %w", err)
			}

			items, totals := ComputeTotals(copyItems(src.Items))
			successor := Quotation{
				SalespersonID:    src.SalespersonID,
				CustomerID:       src.CustomerID,
				CustomerSnapshot: src.CustomerSnapshot,
				QuotationDate:    today,
				ValidityDays:     validityDays,
				Status:           StatusPending,
				Subtotal:         totals.Subtotal,
				TotalDiscount:    totals.TotalDiscount,
				TaxTotal:         totals.TaxTotal,
				TotalValue:       totals.GrandTotal,
				VersionMajor:     1,
				VersionMinor:     0,
				ReissuedFromID:   &src.ID,
				Notes:            src.Notes,
				CreatedBy:        actorID,
			}

			newID, err = tx.Insert(ctx, successor)
			if err != nil {
				return fmt.Errorf("insert successor: %w", err)
			}
			if err := tx.InsertItems(ctx, newID, items); err != nil {
				return err
			}

			seq, err := NextSequence(ctx, tx, fyCode, salesperson.Initials)
			if err != nil {
				return err
			}
			return tx.SetNumber(ctx, newID, FormatNumber(fyCode, salesperson.Initials, seq))
		})
		return newID, err
	}

	newID, err := attempt()
	if IsUniqueViolation(err) {
		newID, err = attempt()
	}
	if err != nil {
		return nil, err
	}
	s.observeAllocation(fyCode)

	s.recordAudit(ctx, actorID, "quotation.reissue", newID)
	return s.repo.Get(ctx, newID)
}

// Update edits quotation content while it is still open and unexpired. The
// row is locked and the open/unexpired guards re-checked inside the
// transaction so an edit cannot race a concurrent decision. A new item list
// recomputes totals, bumps the minor version and appends an immutable version
// snapshot in the same transaction.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actorID int64) (*Quotation, error) {
	var items []Item
	var totals Totals
	if req.Items != nil {
		if len(*req.Items) == 0 {
			return nil, fmt.Errorf("%w: items cannot be emptied", ErrValidation)
		}
		items, totals = ComputeTotals(itemsFromRequests(*req.Items))
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		existing, err := tx.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if existing.Closed() {
			return fmt.Errorf("%w: status is %s", ErrAlreadyDecided, existing.Status)
		}
		if v := EvaluateValidity(existing.QuotationDate, existing.ValidityDays, s.now()); v.State == ValidityExpired {
			return fmt.Errorf("%w: re-issue instead of editing", ErrExpired)
		}

		updates := make(map[string]interface{})
		if req.ValidityDays != nil {
			updates["validity_days"] = *req.ValidityDays
		}
		if req.Notes != nil {
			updates["notes"] = *req.Notes
		}
		if req.Items != nil {
			updates["subtotal"] = totals.Subtotal
			updates["total_discount"] = totals.TotalDiscount
			updates["tax_total"] = totals.TaxTotal
			updates["total_value"] = totals.GrandTotal
			updates["version_minor"] = existing.VersionMinor + 1
		}

		if len(updates) > 0 {
			if err := tx.Update(ctx, id, updates); err != nil {
				return err
			}
		}
		if req.Items == nil {
			return nil
		}
		if err := tx.DeleteItems(ctx, id); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, id, items); err != nil {
			return err
		}
		_, err = tx.InsertVersion(ctx, Version{
			QuotationID:   id,
			Major:         existing.VersionMajor,
			Minor:         existing.VersionMinor + 1,
			Items:         items,
			Subtotal:      totals.Subtotal,
			TotalDiscount: totals.TotalDiscount,
			TaxTotal:      totals.TaxTotal,
			TotalValue:    totals.GrandTotal,
			ChangeComment: req.ChangeComment,
			CreatedBy:     actorID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyDecided) || errors.Is(err, ErrExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("update quotation: %w", err)
	}

	s.recordAudit(ctx, actorID, "quotation.update", id)
	return s.repo.Get(ctx, id)
}

// Delete soft-deletes a quotation; the row is retained for audit.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	if err := s.repo.SoftDelete(ctx, id, actorID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "quotation.delete", id)
	return nil
}

// Get returns a quotation with its validity evaluated against now.
func (s *Service) Get(ctx context.Context, id int64) (*Quotation, Validity, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, Validity{}, err
	}
	return q, EvaluateValidity(q.QuotationDate, q.ValidityDays, s.now()), nil
}

// Validity evaluates a quotation's window against an explicit reference time.
func (s *Service) Validity(q *Quotation, now time.Time) Validity {
	return EvaluateValidity(q.QuotationDate, q.ValidityDays, now)
}

// List returns quotations with per-row derived validity.
func (s *Service) List(ctx context.Context, req ListRequest) ([]ListedQuotation, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	rows, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for i := range rows {
		rows[i].Validity = EvaluateValidity(rows[i].QuotationDate, rows[i].ValidityDays, now)
	}
	return rows, total, nil
}

// Decisions returns the append-only decision log of a quotation.
func (s *Service) Decisions(ctx context.Context, id int64) ([]DecisionRecord, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListDecisions(ctx, id)
}

// Versions returns the immutable content snapshots of a quotation.
func (s *Service) Versions(ctx context.Context, id int64) ([]Version, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ctx, id)
}

// Summary aggregates counts per status plus the derived expired and
// expiring-soon buckets for open quotations.
func (s *Service) Summary(ctx context.Context, salespersonID *int64) (Summary, error) {
	rows, err := s.repo.StatusRows(ctx, salespersonID)
	if err != nil {
		return Summary{}, err
	}
	now := s.now()

	var sum Summary
	for _, row := range rows {
		switch row.Status {
		case StatusWon:
			sum.Won++
			continue
		case StatusLost:
			sum.Lost++
			continue
		case StatusDraft:
			sum.Draft++
		case StatusPending:
			sum.Pending++
		}

		sum.OpenValue += row.TotalValue
		if !row.QuotationDate.Valid {
			continue
		}
		switch EvaluateValidity(row.QuotationDate.Time, row.ValidityDays, now).State {
		case ValidityExpired:
			sum.Expired++
		case ValidityDue, ValidityOverdue:
			sum.ExpiringSoon++
		}
	}
	return sum, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) resolveSalesperson(ctx context.Context, explicit *int64, actorID int64) (*Salesperson, error) {
	id := actorID
	if explicit != nil {
		id = *explicit
	}
	salesperson, err := s.salespeople.GetSalesperson(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: salesperson %d", ErrValidation, id)
	}
	if salesperson.Initials == "" {
		salesperson.Initials = DeriveInitials(salesperson.Name)
	}
	return salesperson, nil
}

func (s *Service) observeAllocation(fyCode string) {
	if s.allocations == nil {
		return
	}
	s.allocations.ObserveNumberAllocated(fyCode)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "quotation",
		EntityID: fmt.Sprintf("%d", id),
	})
}

func itemsFromRequests(reqs []CreateItemRequest) []Item {
	items := make([]Item, len(reqs))
	for i, lr := range reqs {
		items[i] = Item{
			ProductID:       lr.ProductID,
			Description:     lr.Description,
			Quantity:        lr.Quantity,
			UOM:             lr.UOM,
			UnitPrice:       lr.UnitPrice,
			DiscountPercent: lr.DiscountPercent,
			TaxPercent:      lr.TaxPercent,
			LineOrder:       lr.LineOrder,
		}
		if items[i].LineOrder == 0 {
			items[i].LineOrder = i + 1
		}
	}
	return items
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.ID = 0
		it.QuotationID = 0
		out[i] = it
	}
	return out
}

func snapshotOf(c *customers.Customer) CustomerSnapshot {
	return CustomerSnapshot{
		CustomerID:   c.ID,
		Name:         c.Name,
		ContactName:  c.ContactName,
		Email:        c.Email,
		Phone:        c.Phone,
		AddressLine1: c.AddressLine1,
		AddressLine2: c.AddressLine2,
		City:         c.City,
		State:        c.State,
		PostalCode:   c.PostalCode,
		Country:      c.Country,
	}
}
