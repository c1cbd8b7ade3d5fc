package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/diewo77/clinic-invoices/internal/metrics"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ReturnService keeps the append-only ledger of returns against finalized
// invoices. Returns never change items, totals or bills of materials.
type ReturnService struct {
	db    *gorm.DB
	locks *keyedMutex
	log   zerolog.Logger
}

func NewReturnService(db *gorm.DB, opts ...Option) *ReturnService {
	o := newOptions(opts)
	return &ReturnService{db: db, locks: o.locks, log: o.logger.With().Str("service", "returns").Logger()}
}

// RecordReturn appends a return. The description is optional free text.
// The invoice must be finalized; the check and the insert hold the invoice
// lock so a concurrent transition cannot slip in between.
func (s *ReturnService) RecordReturn(ctx context.Context, invoiceID uint, description string, warrantyCovered bool) (*models.InvoiceReturn, error) {
	description = strings.TrimSpace(description)
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	ret := &models.InvoiceReturn{InvoiceID: invoiceID, Description: description, WarrantyCovered: warrantyCovered}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := loadInvoice(tx, invoiceID, false)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceStatusFinalized {
			return fmt.Errorf("%w: returns need a finalized invoice, %d is %s", ErrInvalidState, inv.ID, inv.Status)
		}
		if err := tx.Create(ret).Error; err != nil {
			return fmt.Errorf("create return: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Info().Err(err).Uint("invoice", invoiceID).Msg("return rejected")
		return nil, err
	}
	metrics.RecordReturn(warrantyCovered)
	s.log.Debug().Uint("invoice", invoiceID).Uint("return", ret.ID).Bool("warranty", warrantyCovered).Msg("return recorded")
	return ret, nil
}

// ListReturns returns the invoice's returns in creation order.
func (s *ReturnService) ListReturns(ctx context.Context, invoiceID uint) ([]models.InvoiceReturn, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadInvoice(db, invoiceID, false); err != nil {
		return nil, err
	}
	var out []models.InvoiceReturn
	if err := db.Where("invoice_id = ?", invoiceID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	return out, nil
}
