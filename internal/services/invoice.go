package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/clinic-invoices/internal/composition"
	"github.com/diewo77/clinic-invoices/internal/metrics"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceService drives the invoice lifecycle: items, status transitions,
// totals and resolved bills of materials.
type InvoiceService struct {
	db    *gorm.DB
	graph *composition.Lock
	locks *keyedMutex
	log   zerolog.Logger
	now   func() time.Time

	// observed, when set, runs after a transition has read the current
	// status and before it takes the invoice lock.
	observed func(id uint)
}

func NewInvoiceService(db *gorm.DB, opts ...Option) *InvoiceService {
	o := newOptions(opts)
	return &InvoiceService{
		db:    db,
		graph: o.graph,
		locks: o.locks,
		log:   o.logger.With().Str("service", "invoice").Logger(),
		now:   o.now,
	}
}

// Create opens a trying invoice for a patient of customerName. A zero
// issueDate means today; a zero dueDate means the issue date.
func (s *InvoiceService) Create(ctx context.Context, customerName, patientName string, issueDate, dueDate time.Time) (*models.Invoice, error) {
	if issueDate.IsZero() {
		issueDate = s.now()
	}
	if dueDate.IsZero() {
		dueDate = issueDate
	}
	if dueDate.Before(issueDate) {
		return nil, invalid("due_date", "must not be before issue date")
	}

	var inv *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := findCustomer(tx, customerName)
		if err != nil {
			return err
		}
		patient, err := findPatient(tx, customer.ID, patientName)
		if err != nil {
			return err
		}
		inv = &models.Invoice{
			CustomerID: customer.ID,
			PatientID:  patient.ID,
			IssueDate:  issueDate,
			DueDate:    dueDate,
			Status:     models.InvoiceStatusTrying,
		}
		if err := tx.Create(inv).Error; err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		inv.Customer = customer
		inv.Patient = patient
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Uint("invoice", inv.ID).Str("customer", inv.Customer.Name).Msg("invoice created")
	return inv, nil
}

// Get returns the invoice with its customer, patient and items (in
// insertion order, products preloaded).
func (s *InvoiceService) Get(ctx context.Context, id uint) (*models.Invoice, error) {
	return loadInvoice(s.db.WithContext(ctx), id, true)
}

// AddItem appends a line for quantity units of productName. Allowed while
// the invoice is trying or modified.
func (s *InvoiceService) AddItem(ctx context.Context, invoiceID uint, productName string, quantity int64) (*models.InvoiceItem, error) {
	if quantity < 1 {
		return nil, invalid("quantity", "must be >= 1")
	}
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	var item *models.InvoiceItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, invoiceID, false)
		if err != nil {
			return err
		}
		if !inv.CanEdit() {
			return fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
		}
		p, err := findProduct(tx, productName)
		if err != nil {
			return err
		}
		var last struct{ Max int }
		if err := tx.Model(&models.InvoiceItem{}).
			Select("COALESCE(MAX(position), 0) AS max").
			Where("invoice_id = ?", inv.ID).
			Scan(&last).Error; err != nil {
			return fmt.Errorf("item position: %w", err)
		}
		item = &models.InvoiceItem{InvoiceID: inv.ID, ProductID: p.ID, Quantity: quantity, Position: last.Max + 1}
		if err := tx.Create(item).Error; err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		item.Product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Uint("invoice", invoiceID).Str("product", item.Product.Name).Int64("quantity", quantity).Msg("item added")
	return item, nil
}

// RemoveItem deletes one line. Allowed while the invoice is trying or
// modified.
func (s *InvoiceService) RemoveItem(ctx context.Context, invoiceID, itemID uint) error {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, invoiceID, false)
		if err != nil {
			return err
		}
		if !inv.CanEdit() {
			return fmt.Errorf("%w: invoice %d is %s", ErrInvalidState, inv.ID, inv.Status)
		}
		res := tx.Where("id = ? AND invoice_id = ?", itemID, invoiceID).Delete(&models.InvoiceItem{})
		if res.Error != nil {
			return fmt.Errorf("delete item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: item %d on invoice %d", ErrNotFound, itemID, invoiceID)
		}
		return nil
	})
}

// Finalize moves a trying or modified invoice to finalized and appends a
// revision snapshot. The invoice needs at least one item and every item's
// product must still exist.
func (s *InvoiceService) Finalize(ctx context.Context, id uint) (*models.Invoice, error) {
	return s.transition(ctx, id, models.InvoiceStatusFinalized, func(tx *gorm.DB, inv *models.Invoice) error {
		var items []models.InvoiceItem
		if err := tx.Preload("Product").Where("invoice_id = ?", inv.ID).Order("position, id").Find(&items).Error; err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		if len(items) == 0 {
			return &TransitionError{From: inv.Status, To: models.InvoiceStatusFinalized, Reason: "invoice has no items"}
		}
		rev := models.InvoiceRevision{
			InvoiceID:   inv.ID,
			Revision:    inv.Revision + 1,
			FinalizedAt: s.now(),
			Items:       make([]models.InvoiceRevisionItem, 0, len(items)),
		}
		for _, it := range items {
			if it.Product == nil {
				return &TransitionError{
					From:   inv.Status,
					To:     models.InvoiceStatusFinalized,
					Reason: fmt.Sprintf("item %d references a missing product", it.ID),
				}
			}
			rev.Items = append(rev.Items, models.InvoiceRevisionItem{
				ProductID:   it.ProductID,
				ProductName: it.Product.Name,
				Quantity:    it.Quantity,
				Position:    it.Position,
				NormalRate:  it.Product.NormalRate,
				ReducedRate: it.Product.EffectiveReducedRate(),
			})
		}
		if err := tx.Create(&rev).Error; err != nil {
			return fmt.Errorf("create revision: %w", err)
		}
		inv.Revision = rev.Revision
		return nil
	})
}

// Modify reopens a finalized invoice for editing.
func (s *InvoiceService) Modify(ctx context.Context, id uint) (*models.Invoice, error) {
	return s.transition(ctx, id, models.InvoiceStatusModified, nil)
}

// Void cancels the invoice. Void is terminal.
func (s *InvoiceService) Void(ctx context.Context, id uint) (*models.Invoice, error) {
	return s.transition(ctx, id, models.InvoiceStatusVoid, nil)
}

// transition applies observed -> to as a compare-and-swap on the status
// column. The status is observed before the invoice lock is taken, so of two
// racing calls that saw the same status only the first swap succeeds; the
// other gets a TransitionError. check runs inside the transaction before the
// swap and may reject the move.
func (s *InvoiceService) transition(ctx context.Context, id uint, to models.InvoiceStatus, check func(tx *gorm.DB, inv *models.Invoice) error) (*models.Invoice, error) {
	observed, err := loadInvoice(s.db.WithContext(ctx), id, false)
	if err != nil {
		return nil, err
	}
	if s.observed != nil {
		s.observed(id)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	from := observed.Status
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !from.CanTransition(to) {
			return &TransitionError{From: from, To: to}
		}
		inv, err := loadInvoice(tx, id, false)
		if err != nil {
			return err
		}
		if inv.Status != from {
			return &TransitionError{From: inv.Status, To: to, Reason: "status changed concurrently"}
		}
		if check != nil {
			if err := check(tx, inv); err != nil {
				return err
			}
		}
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]any{"status": to, "revision": inv.Revision, "updated_at": s.now()})
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &TransitionError{From: from, To: to, Reason: "status changed concurrently"}
		}
		return nil
	})
	metrics.RecordTransition(string(to), err)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			s.log.Info().Err(err).Uint("invoice", id).Msg("transition rejected")
		}
		return nil, err
	}
	s.log.Debug().Uint("invoice", id).Str("from", string(from)).Str("to", string(to)).Msg("invoice transitioned")
	return s.Get(ctx, id)
}

// ResolvedBillOfMaterials flattens every item and sums the results. Void
// invoices have no bill of materials.
func (s *InvoiceService) ResolvedBillOfMaterials(ctx context.Context, id uint) (composition.BillOfMaterials, error) {
	start := time.Now()
	s.graph.RLock()
	defer s.graph.RUnlock()

	var bom composition.BillOfMaterials
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, id, false)
		if err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusVoid {
			return fmt.Errorf("%w: invoice %d is void", ErrInvalidState, id)
		}
		var items []models.InvoiceItem
		if err := tx.Where("invoice_id = ?", id).Order("position, id").Find(&items).Error; err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		bom, err = resolveItems(ctx, tx, items)
		return err
	})
	metrics.ObserveFlatten(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return bom, nil
}

// Total sums rate(product, tier) * quantity. Trying and modified invoices
// are priced at current catalog rates; a finalized invoice is priced from
// its latest revision at the rates captured by that finalize. Void invoices
// have no total.
func (s *InvoiceService) Total(ctx context.Context, id uint, tier models.RateTier) (decimal.Decimal, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	switch inv.Status {
	case models.InvoiceStatusVoid:
		return decimal.Zero, fmt.Errorf("%w: invoice %d is void", ErrInvalidState, id)
	case models.InvoiceStatusFinalized:
		rev, err := s.BilledAt(ctx, id, inv.Revision)
		if err != nil {
			return decimal.Zero, err
		}
		return rev.Total(tier), nil
	}
	total := decimal.Zero
	for i := range inv.Items {
		total = total.Add(inv.Items[i].LineTotal(tier))
	}
	return total, nil
}

// Revisions returns the finalize history, oldest first.
func (s *InvoiceService) Revisions(ctx context.Context, id uint) ([]models.InvoiceRevision, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadInvoice(db, id, false); err != nil {
		return nil, err
	}
	var revs []models.InvoiceRevision
	err := db.Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("position, id") }).
		Where("invoice_id = ?", id).
		Order("revision").
		Find(&revs).Error
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return revs, nil
}

// BilledAt returns what was billed by the given finalize.
func (s *InvoiceService) BilledAt(ctx context.Context, id uint, revision int) (*models.InvoiceRevision, error) {
	var rev models.InvoiceRevision
	err := s.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("position, id") }).
		Where("invoice_id = ? AND revision = ?", id, revision).
		First(&rev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: revision %d of invoice %d", ErrNotFound, revision, id)
		}
		return nil, fmt.Errorf("find revision: %w", err)
	}
	return &rev, nil
}

// InvoiceFilter narrows List. Zero values match everything.
type InvoiceFilter struct {
	CustomerName string
	Status       models.InvoiceStatus
	Limit        int
	Offset       int
}

// List returns invoices, newest first, with the total matching count.
func (s *InvoiceService) List(ctx context.Context, f InvoiceFilter) ([]models.Invoice, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	q := s.db.WithContext(ctx).Model(&models.Invoice{})
	if f.CustomerName != "" {
		customer, err := findCustomer(s.db.WithContext(ctx), f.CustomerName)
		if err != nil {
			return nil, 0, err
		}
		q = q.Where("customer_id = ?", customer.ID)
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, 0, invalid("status", fmt.Sprintf("unknown status %q", f.Status))
		}
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	var out []models.Invoice
	err := q.Preload("Customer").Preload("Patient").
		Order("id DESC").Limit(f.Limit).Offset(f.Offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return out, total, nil
}

// ReportFilter selects invoices by issue date, inclusive. Zero bounds are
// open.
type ReportFilter struct {
	From        time.Time
	To          time.Time
	IncludeVoid bool
}

// ConsumptionReport is the summed bill of materials over a set of invoices.
type ConsumptionReport struct {
	From      time.Time                   `json:"from,omitempty"`
	To        time.Time                   `json:"to,omitempty"`
	Invoices  int                         `json:"invoices"`
	Materials composition.BillOfMaterials `json:"materials"`
}

// ConsumptionReport resolves every matching invoice's items into leaf
// quantities against one graph snapshot.
func (s *InvoiceService) ConsumptionReport(ctx context.Context, f ReportFilter) (*ConsumptionReport, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, invalid("to", "must not be before from")
	}
	s.graph.RLock()
	defer s.graph.RUnlock()

	report := &ConsumptionReport{From: f.From, To: f.To, Materials: composition.BillOfMaterials{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Invoice{})
		if !f.From.IsZero() {
			q = q.Where("issue_date >= ?", f.From)
		}
		if !f.To.IsZero() {
			q = q.Where("issue_date <= ?", f.To)
		}
		if !f.IncludeVoid {
			q = q.Where("status <> ?", models.InvoiceStatusVoid)
		}
		var ids []uint
		if err := q.Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("select invoices: %w", err)
		}
		report.Invoices = len(ids)
		if len(ids) == 0 {
			return nil
		}
		var items []models.InvoiceItem
		for start := 0; start < len(ids); start += inChunk {
			end := min(start+inChunk, len(ids))
			var batch []models.InvoiceItem
			if err := tx.Where("invoice_id IN ?", ids[start:end]).Order("id").Find(&batch).Error; err != nil {
				return fmt.Errorf("load items: %w", err)
			}
			items = append(items, batch...)
		}
		bom, err := resolveItems(ctx, tx, items)
		if err != nil {
			return err
		}
		report.Materials = bom
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// inChunk bounds IN (...) lists; sqlite caps bound variables per statement.
const inChunk = 500

// resolveItems loads one snapshot covering every item's product and sums
// the flattened quantities.
func resolveItems(ctx context.Context, tx *gorm.DB, items []models.InvoiceItem) (composition.BillOfMaterials, error) {
	bom := composition.BillOfMaterials{}
	if len(items) == 0 {
		return bom, nil
	}
	roots := make([]uint, 0, len(items))
	for _, it := range items {
		roots = append(roots, it.ProductID)
	}
	g, err := composition.Load(ctx, composition.NewGormSource(tx), roots...)
	if err != nil {
		return nil, graphErr(err)
	}
	for _, it := range items {
		part, err := g.Flatten(it.ProductID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", it.ID, graphErr(err))
		}
		if err := bom.Merge(part); err != nil {
			return nil, err
		}
	}
	return bom, nil
}

func loadInvoice(tx *gorm.DB, id uint, full bool) (*models.Invoice, error) {
	q := tx
	if full {
		q = q.Preload("Customer").
			Preload("Patient").
			Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
			Preload("Items.Product")
	}
	var inv models.Invoice
	if err := q.First(&inv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoiceNotFound(id)
		}
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return &inv, nil
}
