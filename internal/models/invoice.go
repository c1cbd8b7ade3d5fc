package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice. Only the four declared
// values can be scanned from or written to the database.
type InvoiceStatus string

const (
	InvoiceStatusTrying    InvoiceStatus = "trying"
	InvoiceStatusFinalized InvoiceStatus = "finalized"
	InvoiceStatusModified  InvoiceStatus = "modified"
	InvoiceStatusVoid      InvoiceStatus = "void"
)

// transitions lists, for each state, the states it may move to.
var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusTrying:    {InvoiceStatusFinalized, InvoiceStatusVoid},
	InvoiceStatusFinalized: {InvoiceStatusModified, InvoiceStatusVoid},
	InvoiceStatusModified:  {InvoiceStatusFinalized, InvoiceStatusVoid},
	InvoiceStatusVoid:      nil,
}

// ParseInvoiceStatus converts s into a known status.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	st := InvoiceStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown invoice status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the declared states.
func (s InvoiceStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Mutable reports whether items may be added or removed in this state.
func (s InvoiceStatus) Mutable() bool {
	return s == InvoiceStatusTrying || s == InvoiceStatusModified
}

// Scan implements sql.Scanner and rejects unknown values.
func (s *InvoiceStatus) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("invoice status: unsupported type %T", value)
	}
	st, err := ParseInvoiceStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value implements driver.Valuer.
func (s InvoiceStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invoice status: invalid value %q", string(s))
	}
	return string(s), nil
}

// Invoice bills products to one patient of one customer.
type Invoice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CustomerID uint      `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"customer,omitempty"`
	PatientID  uint      `gorm:"index;not null" json:"patient_id"`
	Patient    *Patient  `gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE" json:"patient,omitempty"`

	IssueDate time.Time `gorm:"not null;index" json:"issue_date"`
	DueDate   time.Time `gorm:"not null" json:"due_date"`

	Status InvoiceStatus `gorm:"size:20;not null;default:'trying';index" json:"status"`
	// Revision counts successful finalizations; it matches the latest
	// InvoiceRevision.Revision.
	Revision int `gorm:"not null;default:0" json:"revision"`

	Items   []InvoiceItem   `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	Returns []InvoiceReturn `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"-"`
}

// CanEdit returns true if items can still be added or removed.
func (i *Invoice) CanEdit() bool {
	return i.Status.Mutable()
}

// InvoiceItem is a line referencing a catalog product, aggregate or leaf.
type InvoiceItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	InvoiceID uint     `gorm:"index;not null" json:"invoice_id"`
	ProductID uint     `gorm:"index;not null" json:"product_id"`
	Product   *Product `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT" json:"product,omitempty"`
	Quantity  int64    `gorm:"not null" json:"quantity"`

	// Position keeps insertion order
	Position int `gorm:"not null;default:0" json:"position"`
}

// LineTotal returns rate(product, tier) * quantity. Product must be loaded.
func (item *InvoiceItem) LineTotal(tier RateTier) decimal.Decimal {
	if item.Product == nil {
		return decimal.Zero
	}
	return item.Product.Rate(tier).Mul(decimal.NewFromInt(item.Quantity))
}

// InvoiceRevision is an append-only snapshot of the item set taken each time
// an invoice is finalized.
type InvoiceRevision struct {
	ID          uint                  `gorm:"primaryKey" json:"id"`
	InvoiceID   uint                  `gorm:"not null;uniqueIndex:idx_invoice_revision,priority:1" json:"invoice_id"`
	Revision    int                   `gorm:"not null;uniqueIndex:idx_invoice_revision,priority:2" json:"revision"`
	FinalizedAt time.Time             `gorm:"not null" json:"finalized_at"`
	Items       []InvoiceRevisionItem `gorm:"foreignKey:RevisionID;constraint:OnDelete:CASCADE" json:"items"`
	Invoice     *Invoice              `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"-"`
}

// Total sums the lines at the rates captured by this finalize.
func (r *InvoiceRevision) Total(tier RateTier) decimal.Decimal {
	total := decimal.Zero
	for i := range r.Items {
		total = total.Add(r.Items[i].LineTotal(tier))
	}
	return total
}

// InvoiceRevisionItem copies the product name and both rates so a later
// rename or price change does not rewrite history. ReducedRate holds the
// effective reduced rate at finalize time.
type InvoiceRevisionItem struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	RevisionID  uint            `gorm:"index;not null" json:"-"`
	ProductID   uint            `gorm:"not null" json:"product_id"`
	ProductName string          `gorm:"size:255;not null" json:"product_name"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	Position    int             `gorm:"not null" json:"position"`
	NormalRate  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"normal_rate"`
	ReducedRate decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"reduced_rate"`
}

// LineTotal returns the captured rate for tier times quantity.
func (it *InvoiceRevisionItem) LineTotal(tier RateTier) decimal.Decimal {
	r := it.NormalRate
	if tier == RateReduced {
		r = it.ReducedRate
	}
	return r.Mul(decimal.NewFromInt(it.Quantity))
}

// InvoiceReturn records goods returned against a finalized invoice. Rows are
// never updated; corrections are new returns.
type InvoiceReturn struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	InvoiceID       uint      `gorm:"index;not null" json:"invoice_id"`
	Description     string    `gorm:"type:text" json:"description"`
	WarrantyCovered bool      `gorm:"not null;default:false" json:"warranty_covered"`
}
