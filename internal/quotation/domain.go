package quotation

import "time"

type Status string

const (
	StatusDraft   Status = "draft"
	StatusPending Status = "pending"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
)

// ValidityState classifies a quotation against its validity window. It is
// derived from wall-clock time on every read and never persisted.
type ValidityState string

const (
	ValidityValid   ValidityState = "valid"
	ValidityDue     ValidityState = "due"
	ValidityOverdue ValidityState = "overdue"
	ValidityExpired ValidityState = "expired"
)

type DecisionKind string

const (
	DecisionWon  DecisionKind = "won"
	DecisionLost DecisionKind = "lost"
)

// DefaultValidityDays applies when a request omits the validity window.
const DefaultValidityDays = 30

// CustomerSnapshot is the point-in-time copy of customer master data taken
// when a quotation is issued. Later edits to the customer record never
// retroactively alter an issued quotation.
type CustomerSnapshot struct {
	CustomerID   int64   `json:"customer_id"`
	Name         string  `json:"name"`
	ContactName  *string `json:"contact_name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	AddressLine1 *string `json:"address_line1,omitempty"`
	AddressLine2 *string `json:"address_line2,omitempty"`
	City         *string `json:"city,omitempty"`
	State        *string `json:"state,omitempty"`
	PostalCode   *string `json:"postal_code,omitempty"`
	Country      string  `json:"country"`
}

type Item struct {
	ID              int64   `json:"id,omitempty"`
	QuotationID     int64   `json:"quotation_id,omitempty"`
	ProductID       int64   `json:"product_id"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity"`
	UOM             string  `json:"uom"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
	TaxPercent      float64 `json:"tax_percent"`
	TaxAmount       float64 `json:"tax_amount"`
	LineTotal       float64 `json:"line_total"`
	LineOrder       int     `json:"line_order"`
}

type Quotation struct {
	ID               int64            `json:"id"`
	QuotationNo      *string          `json:"quotation_no,omitempty"`
	SalespersonID    int64            `json:"salesperson_id"`
	CustomerID       int64            `json:"customer_id"`
	CustomerSnapshot CustomerSnapshot `json:"customer_snapshot"`
	QuotationDate    time.Time        `json:"quotation_date"`
	ValidityDays     int              `json:"validity_days"`
	Status           Status           `json:"status"`
	Subtotal         float64          `json:"subtotal"`
	TotalDiscount    float64          `json:"total_discount"`
	TaxTotal         float64          `json:"tax_total"`
	TotalValue       float64          `json:"total_value"`
	VersionMajor     int              `json:"version_major"`
	VersionMinor     int              `json:"version_minor"`
	ReissuedFromID   *int64           `json:"reissued_from_id,omitempty"`
	Notes            *string          `json:"notes,omitempty"`
	CreatedBy        int64            `json:"created_by"`
	IsDeleted        bool             `json:"-"`
	DeletedAt        *time.Time       `json:"-"`
	DeletedBy        *int64           `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Items            []Item           `json:"items,omitempty"`
}

// Number returns the assigned business key, or empty while unassigned.
func (q *Quotation) Number() string {
	if q.QuotationNo == nil {
		return ""
	}
	return *q.QuotationNo
}

// Closed reports whether the quotation reached a terminal decision.
func (q *Quotation) Closed() bool {
	return q.Status == StatusWon || q.Status == StatusLost
}

// DecisionRecord is an append-only won/lost determination. The current
// decision of a quotation is the most recent record for its id.
type DecisionRecord struct {
	ID          int64        `json:"id"`
	QuotationID int64        `json:"quotation_id"`
	Decision    DecisionKind `json:"decision"`
	Comment     *string      `json:"comment,omitempty"`
	DecidedBy   int64        `json:"decided_by"`
	DecidedAt   time.Time    `json:"decided_at"`
}

// Version is an immutable snapshot of items and totals taken when quotation
// content changes after initial issuance.
type Version struct {
	ID            int64     `json:"id"`
	QuotationID   int64     `json:"quotation_id"`
	Major         int       `json:"major"`
	Minor         int       `json:"minor"`
	Items         []Item    `json:"items"`
	Subtotal      float64   `json:"subtotal"`
	TotalDiscount float64   `json:"total_discount"`
	TaxTotal      float64   `json:"tax_total"`
	TotalValue    float64   `json:"total_value"`
	ChangeComment *string   `json:"change_comment,omitempty"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validity is the derived window evaluation returned on read paths.
type Validity struct {
	ValidUntil    time.Time     `json:"valid_until"`
	RemainingDays int           `json:"remaining_days"`
	State         ValidityState `json:"validity_state"`
}

// Salesperson is the resolved owner of a deal, including the initials
// embedded in quotation numbers.
type Salesperson struct {
	ID       int64
	Name     string
	Initials string
	Role     string
	IsActive bool
}

// Summary aggregates quotation counts for the dashboard read path. Expired
// and ExpiringSoon are derived via the validity evaluator, not stored.
type Summary struct {
	Draft        int     `json:"draft"`
	Pending      int     `json:"pending"`
	Won          int     `json:"won"`
	Lost         int     `json:"lost"`
	Expired      int     `json:"expired"`
	ExpiringSoon int     `json:"expiring_soon"`
	OpenValue    float64 `json:"open_value"`
}

// ============================================================================
// REQUESTS
// ============================================================================

type CreateItemRequest struct {
	ProductID       int64   `json:"product_id" validate:"required,gt=0"`
	Description     *string `json:"description,omitempty"`
	Quantity        float64 `json:"quantity"`
	UOM             string  `json:"uom" validate:"max=20"`
	UnitPrice       float64 `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxPercent      float64 `json:"tax_percent"`
	LineOrder       int     `json:"line_order" validate:"gte=0"`
}

type CreateRequest struct {
	CustomerID    int64               `json:"customer_id" validate:"required,gt=0"`
	SalespersonID *int64              `json:"salesperson_id,omitempty" validate:"omitempty,gt=0"`
	QuotationDate *time.Time          `json:"quotation_date,omitempty"`
	ValidityDays  int                 `json:"validity_days" validate:"gte=0,lte=365"`
	Status        *Status             `json:"status,omitempty"`
	Notes         *string             `json:"notes,omitempty"`
	Items         []CreateItemRequest `json:"items" validate:"required,min=1,dive"`
}

type UpdateRequest struct {
	ValidityDays  *int                 `json:"validity_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	Notes         *string              `json:"notes,omitempty"`
	Items         *[]CreateItemRequest `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	ChangeComment *string              `json:"change_comment,omitempty"`
}

type DecideRequest struct {
	Decision DecisionKind `json:"decision" validate:"required,oneof=won lost"`
	Comment  *string      `json:"comment,omitempty"`
}

type ReissueRequest struct {
	ValidityDays int `json:"validity_days" validate:"gte=0,lte=365"`
}

type ListRequest struct {
	SalespersonID *int64     `json:"salesperson_id,omitempty"`
	CustomerID    *int64     `json:"customer_id,omitempty"`
	Status        *Status    `json:"status,omitempty"`
	DateFrom      *time.Time `json:"date_from,omitempty"`
	DateTo        *time.Time `json:"date_to,omitempty"`
	Limit         int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset        int        `json:"offset" validate:"gte=0"`
}

// ListedQuotation pairs a row with its validity evaluated at query time.
type ListedQuotation struct {
	Quotation
	CustomerName    string   `json:"customer_name"`
	SalespersonName string   `json:"salesperson_name"`
	Validity        Validity `json:"validity"`
}
