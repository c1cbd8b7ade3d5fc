package composition

import (
	"context"
	"fmt"

	"github.com/diewo77/clinic-invoices/internal/models"
	"gorm.io/gorm"
)

// Source reads composition edges and product names from storage.
type Source interface {
	// EdgesFrom returns the outgoing edges of the given composites, ordered
	// by edge id.
	EdgesFrom(ctx context.Context, composites []uint) ([]models.CompositionEdge, error)
	// Names returns the names of the given products.
	Names(ctx context.Context, ids []uint) (map[uint]string, error)
}

// Load builds the snapshot reachable from roots. Edges are fetched one BFS
// frontier at a time, so the number of queries is bounded by the depth of
// the sub-DAG and the rows read by the edges actually reachable.
func Load(ctx context.Context, src Source, roots ...uint) (*Graph, error) {
	g := NewGraph()
	seen := make(map[uint]bool, len(roots))
	frontier := make([]uint, 0, len(roots))
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			frontier = append(frontier, r)
		}
	}

	for len(frontier) > 0 {
		edges, err := src.EdgesFrom(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load edges: %w", err)
		}
		next := frontier[:0:0]
		for _, e := range edges {
			g.AddEdge(e.CompositeID, e.ComponentID, e.Multiplicity)
			if !seen[e.ComponentID] {
				seen[e.ComponentID] = true
				next = append(next, e.ComponentID)
			}
		}
		frontier = next
	}

	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	names, err := src.Names(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load names: %w", err)
	}
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
		g.AddNode(id, name)
	}
	return g, nil
}

// inChunk bounds IN (...) lists; sqlite caps bound variables per statement.
const inChunk = 500

// GormSource reads the graph through a gorm handle, usually a transaction.
type GormSource struct {
	db *gorm.DB
}

// NewGormSource wraps db.
func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) EdgesFrom(ctx context.Context, composites []uint) ([]models.CompositionEdge, error) {
	var out []models.CompositionEdge
	for start := 0; start < len(composites); start += inChunk {
		end := min(start+inChunk, len(composites))
		var batch []models.CompositionEdge
		err := s.db.WithContext(ctx).
			Where("composite_id IN ?", composites[start:end]).
			Order("id").
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *GormSource) Names(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		var rows []models.Product
		err := s.db.WithContext(ctx).
			Select("id", "name").
			Where("id IN ?", ids[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			names[p.ID] = p.Name
		}
	}
	return names, nil
}
