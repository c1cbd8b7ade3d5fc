package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateTier selects which of a product's two prices applies to a sale.
// The tier is supplied by the caller (e.g. from patient eligibility); it is
// never stored on the invoice.
type RateTier string

const (
	RateNormal  RateTier = "normal"
	RateReduced RateTier = "reduced"
)

// ParseRateTier accepts "normal" or "reduced" (case-insensitive). The
// legacy name "ministry" is accepted as an alias for reduced.
func ParseRateTier(s string) (RateTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RateNormal):
		return RateNormal, nil
	case string(RateReduced), "ministry":
		return RateReduced, nil
	}
	return "", fmt.Errorf("unknown rate tier %q", s)
}

// Product is a catalog entry. Name is stored upper-case and is unique.
type Product struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Name        string           `gorm:"size:255;not null;uniqueIndex" json:"name"`
	NormalRate  decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"normal_rate"`
	ReducedRate *decimal.Decimal `gorm:"type:decimal(12,2)" json:"reduced_rate,omitempty"`
	Description string           `gorm:"type:text" json:"description,omitempty"`
}

// EffectiveReducedRate returns the reduced rate, falling back to the normal
// rate when no override is set.
func (p *Product) EffectiveReducedRate() decimal.Decimal {
	if p.ReducedRate == nil {
		return p.NormalRate
	}
	return *p.ReducedRate
}

// Rate returns the unit price for the given tier.
func (p *Product) Rate(tier RateTier) decimal.Decimal {
	if tier == RateReduced {
		return p.EffectiveReducedRate()
	}
	return p.NormalRate
}

// FoldName normalizes a product, customer or patient name for storage and
// comparison.
func FoldName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// CompositionEdge states that one unit of Composite consumes Multiplicity
// units of Component.
type CompositionEdge struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	CompositeID  uint      `gorm:"not null;uniqueIndex:idx_composite_component,priority:1" json:"composite_id"`
	ComponentID  uint      `gorm:"not null;uniqueIndex:idx_composite_component,priority:2;index:idx_edge_component" json:"component_id"`
	Multiplicity int64     `gorm:"not null;default:1" json:"multiplicity"`
	Composite    *Product  `gorm:"foreignKey:CompositeID;constraint:OnDelete:CASCADE" json:"-"`
	Component    *Product  `gorm:"foreignKey:ComponentID;constraint:OnDelete:CASCADE" json:"component,omitempty"`
}
