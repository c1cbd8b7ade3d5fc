package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/clinic-invoices/internal/composition"
	"github.com/diewo77/clinic-invoices/internal/metrics"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Component is one direct edge of a composite, seen from either end.
type Component struct {
	ProductID    uint   `json:"product_id"`
	Name         string `json:"name"`
	Multiplicity int64  `json:"multiplicity"`
}

// CompositionService maintains the composition graph and resolves products
// into bills of materials.
type CompositionService struct {
	db    *gorm.DB
	graph *composition.Lock
	log   zerolog.Logger
}

func NewCompositionService(db *gorm.DB, opts ...Option) *CompositionService {
	o := newOptions(opts)
	return &CompositionService{db: db, graph: o.graph, log: o.logger.With().Str("service", "composition").Logger()}
}

// DefineAggregate records that one unit of composite consumes multiplicity
// units of component. Checks run in order: multiplicity, existence,
// self-reference, duplicate edge, cycle.
func (s *CompositionService) DefineAggregate(ctx context.Context, composite, component string, multiplicity int64) error {
	if multiplicity < 1 {
		return invalid("multiplicity", "must be >= 1")
	}

	err := s.write(ctx, func(tx *gorm.DB) error {
		parent, child, err := findPair(tx, composite, component)
		if err != nil {
			return err
		}
		if parent.ID == child.ID {
			return fmt.Errorf("%w: %q", ErrSelfReference, parent.Name)
		}
		exists, err := edgeExists(tx, parent.ID, child.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q -> %q", ErrDuplicateEdge, parent.Name, child.Name)
		}

		g, err := composition.Load(ctx, composition.NewGormSource(tx), child.ID)
		if err != nil {
			return graphErr(err)
		}
		if g.Reaches(child.ID, parent.ID) {
			metrics.RecordCycleRejected()
			return fmt.Errorf("%w: %q already contains %q", ErrCycle, child.Name, parent.Name)
		}

		edge := &models.CompositionEdge{CompositeID: parent.ID, ComponentID: child.ID, Multiplicity: multiplicity}
		if err := tx.Create(edge).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %q -> %q", ErrDuplicateEdge, parent.Name, child.Name)
			}
			return fmt.Errorf("create edge: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Info().Err(err).Str("composite", composite).Str("component", component).Msg("define rejected")
		return err
	}
	metrics.RecordEdgeChange("define", 1)
	s.log.Debug().Str("composite", composite).Str("component", component).Int64("multiplicity", multiplicity).Msg("edge defined")
	return nil
}

// RemoveAggregate deletes the composite -> component edge.
func (s *CompositionService) RemoveAggregate(ctx context.Context, composite, component string) error {
	err := s.write(ctx, func(tx *gorm.DB) error {
		parent, child, err := findPair(tx, composite, component)
		if err != nil {
			return err
		}
		res := tx.Where("composite_id = ? AND component_id = ?", parent.ID, child.ID).Delete(&models.CompositionEdge{})
		if res.Error != nil {
			return fmt.Errorf("delete edge: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %q -> %q", ErrEdgeNotFound, parent.Name, child.Name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordEdgeChange("remove", 1)
	s.log.Debug().Str("composite", composite).Str("component", component).Msg("edge removed")
	return nil
}

// SetMultiplicity corrects the multiplicity of an existing edge.
func (s *CompositionService) SetMultiplicity(ctx context.Context, composite, component string, multiplicity int64) error {
	if multiplicity < 1 {
		return invalid("multiplicity", "must be >= 1")
	}
	err := s.write(ctx, func(tx *gorm.DB) error {
		parent, child, err := findPair(tx, composite, component)
		if err != nil {
			return err
		}
		res := tx.Model(&models.CompositionEdge{}).
			Where("composite_id = ? AND component_id = ?", parent.ID, child.ID).
			Update("multiplicity", multiplicity)
		if res.Error != nil {
			return fmt.Errorf("update edge: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %q -> %q", ErrEdgeNotFound, parent.Name, child.Name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordEdgeChange("update", 1)
	return nil
}

// ComponentsOf lists the direct children of name in definition order.
func (s *CompositionService) ComponentsOf(ctx context.Context, name string) ([]Component, error) {
	return s.neighbours(ctx, name, "composite_id", "component_id")
}

// UsedIn lists the composites that directly contain name.
func (s *CompositionService) UsedIn(ctx context.Context, name string) ([]Component, error) {
	return s.neighbours(ctx, name, "component_id", "composite_id")
}

func (s *CompositionService) neighbours(ctx context.Context, name, self, other string) ([]Component, error) {
	db := s.db.WithContext(ctx)
	p, err := findProduct(db, name)
	if err != nil {
		return nil, err
	}
	var out []Component
	err = db.Table("composition_edges AS e").
		Select("p.id AS product_id, p.name AS name, e.multiplicity AS multiplicity").
		Joins("JOIN products AS p ON p.id = e."+other).
		Where("e."+self+" = ?", p.ID).
		Order("e.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	return out, nil
}

// Flatten resolves count units of name into leaf quantities, against a
// consistent snapshot of the graph.
func (s *CompositionService) Flatten(ctx context.Context, name string, count int64) (composition.BillOfMaterials, error) {
	if count < 1 {
		return nil, invalid("count", "must be >= 1")
	}
	start := time.Now()
	var bom composition.BillOfMaterials
	err := s.read(ctx, func(tx *gorm.DB) error {
		p, err := findProduct(tx, name)
		if err != nil {
			return err
		}
		g, err := composition.Load(ctx, composition.NewGormSource(tx), p.ID)
		if err != nil {
			return graphErr(err)
		}
		bom, err = g.Flatten(p.ID, count)
		return graphErr(err)
	})
	metrics.ObserveFlatten(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return bom, nil
}

// write runs fn as a serialized graph mutation.
func (s *CompositionService) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.graph.Lock()
	defer s.graph.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := composition.LockTx(tx); err != nil {
			return fmt.Errorf("graph lock: %w", err)
		}
		return fn(tx)
	})
}

// read runs fn in one transaction under the graph read lock.
func (s *CompositionService) read(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.graph.RLock()
	defer s.graph.RUnlock()
	return s.db.WithContext(ctx).Transaction(fn)
}

func findPair(tx *gorm.DB, composite, component string) (*models.Product, *models.Product, error) {
	parent, err := findProduct(tx, composite)
	if err != nil {
		return nil, nil, err
	}
	child, err := findProduct(tx, component)
	if err != nil {
		return nil, nil, err
	}
	return parent, child, nil
}

func edgeExists(tx *gorm.DB, compositeID, componentID uint) (bool, error) {
	var n int64
	err := tx.Model(&models.CompositionEdge{}).
		Where("composite_id = ? AND component_id = ?", compositeID, componentID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check edge: %w", err)
	}
	return n > 0, nil
}
