package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/diewo77/clinic-invoices/internal/validation"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ClinicService is the directory of customers (doctors) and their patients.
type ClinicService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewClinicService(db *gorm.DB, opts ...Option) *ClinicService {
	o := newOptions(opts)
	return &ClinicService{db: db, log: o.logger.With().Str("service", "clinic").Logger()}
}

// AddCustomer registers a customer. The phone must be E.164; an email that
// does not look valid is dropped rather than rejected.
func (s *ClinicService) AddCustomer(ctx context.Context, name, address, phone, email string) (*models.Customer, error) {
	c := &models.Customer{
		Name:    models.FoldName(name),
		Address: models.FoldName(address),
		Phone:   strings.TrimSpace(phone),
	}
	if e := strings.TrimSpace(email); validation.IsEmail(e) {
		c.Email = strings.ToUpper(e)
	}

	v := make(validation.Violations)
	validation.Required("name", c.Name, v)
	validation.Phone("phone", c.Phone, v)
	if err := violationsErr(v); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Customer{}).Where("name = ?", c.Name).Count(&n).Error; err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: customer %q", ErrDuplicate, c.Name)
		}
		if err := tx.Create(c).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: customer %q", ErrDuplicate, c.Name)
			}
			return fmt.Errorf("create customer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("customer", c.Name).Msg("customer added")
	return c, nil
}

func (s *ClinicService) GetCustomer(ctx context.Context, name string) (*models.Customer, error) {
	return findCustomer(s.db.WithContext(ctx), name)
}

// SearchCustomers matches query as a prefix of the name, address, phone or
// email.
func (s *ClinicService) SearchCustomers(ctx context.Context, query string, limit int) ([]models.Customer, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := s.db.WithContext(ctx).Order("name").Limit(limit)
	if p := models.FoldName(query); p != "" {
		like := likePrefix(p)
		q = q.Where("name LIKE ? ESCAPE '\\' OR address LIKE ? ESCAPE '\\' OR phone LIKE ? ESCAPE '\\' OR email LIKE ? ESCAPE '\\'",
			like, like, like, like)
	}
	var out []models.Customer
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	return out, nil
}

func (s *ClinicService) UpdateCustomerEmail(ctx context.Context, name, email string) error {
	email = strings.TrimSpace(email)
	if !validation.IsEmail(email) {
		return invalid("email", "invalid_email")
	}
	return s.updateCustomer(ctx, name, "email", strings.ToUpper(email))
}

func (s *ClinicService) UpdateCustomerAddress(ctx context.Context, name, address string) error {
	address = models.FoldName(address)
	if address == "" {
		return invalid("address", "required")
	}
	return s.updateCustomer(ctx, name, "address", address)
}

func (s *ClinicService) UpdateCustomerPhone(ctx context.Context, name, phone string) error {
	phone = strings.TrimSpace(phone)
	if !validation.IsPhone(phone) {
		return invalid("phone", "invalid_phone")
	}
	return s.updateCustomer(ctx, name, "phone", phone)
}

func (s *ClinicService) updateCustomer(ctx context.Context, name, column, value string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findCustomer(tx, name)
		if err != nil {
			return err
		}
		if err := tx.Model(c).Update(column, value).Error; err != nil {
			return fmt.Errorf("update customer %s: %w", column, err)
		}
		return nil
	})
}

// AddPatient registers a patient under customerName. Names are unique per
// doctor.
func (s *ClinicService) AddPatient(ctx context.Context, customerName, patientName string) (*models.Patient, error) {
	folded := models.FoldName(patientName)
	if folded == "" {
		return nil, invalid("name", "required")
	}
	var p *models.Patient
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findCustomer(tx, customerName)
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.Patient{}).Where("doctor_id = ? AND name = ?", c.ID, folded).Count(&n).Error; err != nil {
			return fmt.Errorf("check patient: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: patient %q of %q", ErrDuplicate, folded, c.Name)
		}
		p = &models.Patient{DoctorID: c.ID, Name: folded}
		if err := tx.Create(p).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: patient %q of %q", ErrDuplicate, folded, c.Name)
			}
			return fmt.Errorf("create patient: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ClinicService) GetPatient(ctx context.Context, customerName, patientName string) (*models.Patient, error) {
	db := s.db.WithContext(ctx)
	c, err := findCustomer(db, customerName)
	if err != nil {
		return nil, err
	}
	return findPatient(db, c.ID, patientName)
}

// SearchPatients lists patients of customerName whose name starts with
// prefix.
func (s *ClinicService) SearchPatients(ctx context.Context, customerName, prefix string, limit int) ([]models.Patient, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	db := s.db.WithContext(ctx)
	c, err := findCustomer(db, customerName)
	if err != nil {
		return nil, err
	}
	q := db.Where("doctor_id = ?", c.ID).Order("name").Limit(limit)
	if p := models.FoldName(prefix); p != "" {
		q = q.Where("name LIKE ? ESCAPE '\\'", likePrefix(p))
	}
	var out []models.Patient
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return out, nil
}

func findCustomer(tx *gorm.DB, name string) (*models.Customer, error) {
	folded := models.FoldName(name)
	var c models.Customer
	if err := tx.Where("name = ?", folded).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: customer %q", ErrNotFound, folded)
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return &c, nil
}

func findPatient(tx *gorm.DB, customerID uint, name string) (*models.Patient, error) {
	folded := models.FoldName(name)
	var p models.Patient
	if err := tx.Where("doctor_id = ? AND name = ?", customerID, folded).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: patient %q", ErrNotFound, folded)
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	return &p, nil
}

// violationsErr turns the first violation (by field name) into a
// ValidationError.
func violationsErr(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	var field string
	for f := range v {
		if field == "" || f < field {
			field = f
		}
	}
	return invalid(field, v[field])
}
