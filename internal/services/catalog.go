package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/clinic-invoices/internal/composition"
	"github.com/diewo77/clinic-invoices/internal/metrics"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultSearchLimit caps prefix searches when the caller passes no limit.
const DefaultSearchLimit = 10

// CatalogService manages products: names, rates and descriptions.
type CatalogService struct {
	db    *gorm.DB
	graph *composition.Lock
	log   zerolog.Logger
}

func NewCatalogService(db *gorm.DB, opts ...Option) *CatalogService {
	o := newOptions(opts)
	return &CatalogService{db: db, graph: o.graph, log: o.logger.With().Str("service", "catalog").Logger()}
}

// Register adds a product. A nil reducedRate means the reduced tier bills at
// the normal rate.
func (s *CatalogService) Register(ctx context.Context, name string, normalRate decimal.Decimal, description string, reducedRate *decimal.Decimal) (*models.Product, error) {
	folded := models.FoldName(name)
	if folded == "" {
		return nil, invalid("name", "required")
	}
	if normalRate.IsNegative() {
		return nil, invalid("normal_rate", "must not be negative")
	}
	if reducedRate != nil && reducedRate.IsNegative() {
		return nil, invalid("reduced_rate", "must not be negative")
	}

	p := &models.Product{
		Name:        folded,
		NormalRate:  normalRate,
		ReducedRate: reducedRate,
		Description: strings.TrimSpace(description),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := productExists(tx, folded)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: product %q", ErrDuplicate, folded)
		}
		if err := tx.Create(p).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: product %q", ErrDuplicate, folded)
			}
			return fmt.Errorf("create product: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Info().Err(err).Str("product", folded).Msg("register rejected")
		return nil, err
	}
	s.log.Debug().Uint("id", p.ID).Str("product", p.Name).Msg("product registered")
	return p, nil
}

// Rename changes a product's name. Renaming to the same folded name is a
// no-op.
func (s *CatalogService) Rename(ctx context.Context, oldName, newName string) error {
	to := models.FoldName(newName)
	if to == "" {
		return invalid("name", "required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := findProduct(tx, oldName)
		if err != nil {
			return err
		}
		if p.Name == to {
			return nil
		}
		taken, err := productExists(tx, to)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: product %q", ErrDuplicate, to)
		}
		if err := tx.Model(p).Update("name", to).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: product %q", ErrDuplicate, to)
			}
			return fmt.Errorf("rename product: %w", err)
		}
		s.log.Debug().Str("from", oldName).Str("to", to).Msg("product renamed")
		return nil
	})
}

func (s *CatalogService) SetNormalRate(ctx context.Context, name string, rate decimal.Decimal) error {
	if rate.IsNegative() {
		return invalid("normal_rate", "must not be negative")
	}
	return s.updateField(ctx, name, "normal_rate", rate)
}

// SetReducedRate sets the reduced-tier price. nil clears the override.
func (s *CatalogService) SetReducedRate(ctx context.Context, name string, rate *decimal.Decimal) error {
	if rate != nil && rate.IsNegative() {
		return invalid("reduced_rate", "must not be negative")
	}
	if rate == nil {
		return s.updateField(ctx, name, "reduced_rate", gorm.Expr("NULL"))
	}
	return s.updateField(ctx, name, "reduced_rate", *rate)
}

func (s *CatalogService) SetDescription(ctx context.Context, name, description string) error {
	return s.updateField(ctx, name, "description", strings.TrimSpace(description))
}

func (s *CatalogService) updateField(ctx context.Context, name, column string, value any) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := findProduct(tx, name)
		if err != nil {
			return err
		}
		if err := tx.Model(p).Update(column, value).Error; err != nil {
			return fmt.Errorf("update product %s: %w", column, err)
		}
		s.log.Debug().Str("product", p.Name).Str("field", column).Msg("product updated")
		return nil
	})
}

// Find looks a product up by case-insensitive exact name.
func (s *CatalogService) Find(ctx context.Context, name string) (*models.Product, error) {
	return findProduct(s.db.WithContext(ctx), name)
}

// List returns products whose folded name starts with prefix, ordered by
// name. limit <= 0 means DefaultSearchLimit.
func (s *CatalogService) List(ctx context.Context, prefix string, limit int) ([]models.Product, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := s.db.WithContext(ctx).Order("name").Limit(limit)
	if p := models.FoldName(prefix); p != "" {
		q = q.Where("name LIKE ? ESCAPE '\\'", likePrefix(p))
	}
	var out []models.Product
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// Remove deletes a product together with every composition edge touching
// it. Products referenced by invoice items are refused with ErrProductInUse.
func (s *CatalogService) Remove(ctx context.Context, name string) error {
	s.graph.Lock()
	defer s.graph.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := composition.LockTx(tx); err != nil {
			return fmt.Errorf("graph lock: %w", err)
		}
		p, err := findProduct(tx, name)
		if err != nil {
			return err
		}
		var used int64
		if err := tx.Model(&models.InvoiceItem{}).Where("product_id = ?", p.ID).Count(&used).Error; err != nil {
			return fmt.Errorf("count invoice items: %w", err)
		}
		if used > 0 {
			s.log.Info().Str("product", p.Name).Int64("items", used).Msg("remove refused")
			return fmt.Errorf("%w: %q on %d item(s)", ErrProductInUse, p.Name, used)
		}
		res := tx.Where("composite_id = ? OR component_id = ?", p.ID, p.ID).Delete(&models.CompositionEdge{})
		if res.Error != nil {
			return fmt.Errorf("delete edges: %w", res.Error)
		}
		if err := tx.Delete(p).Error; err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		metrics.RecordEdgeChange("cascade", int(res.RowsAffected))
		s.log.Debug().Str("product", p.Name).Int64("edges", res.RowsAffected).Msg("product removed")
		return nil
	})
}

func findProduct(tx *gorm.DB, name string) (*models.Product, error) {
	folded := models.FoldName(name)
	var p models.Product
	if err := tx.Where("name = ?", folded).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, productNotFound(folded)
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &p, nil
}

func productExists(tx *gorm.DB, folded string) (bool, error) {
	var n int64
	if err := tx.Model(&models.Product{}).Where("name = ?", folded).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check product: %w", err)
	}
	return n > 0, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(s string) string {
	return likeEscaper.Replace(s) + "%"
}
