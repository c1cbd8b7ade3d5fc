package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminUsername is the operator created by Seed.
const AdminUsername = "admin"

type seedProduct struct {
	name        string
	normal      string
	reduced     string
	description string
}

var demoProducts = []seedProduct{
	{"GAUZE PAD", "0.40", "0.30", "sterile gauze pad 10x10"},
	{"SUTURE THREAD", "2.10", "", "absorbable suture, single pack"},
	{"NEEDLE HOLDER", "8.00", "6.50", ""},
	{"GLOVES", "0.25", "", "nitrile, one pair"},
	{"SUTURE KIT", "15.00", "12.00", "gauze, thread, holder and gloves"},
	{"DRESSING KIT", "4.50", "", ""},
	{"CLINIC PACK", "30.00", "24.00", "two suture kits and a dressing kit"},
}

var demoEdges = []struct {
	composite, component string
	multiplicity         int64
}{
	{"SUTURE KIT", "GAUZE PAD", 4},
	{"SUTURE KIT", "SUTURE THREAD", 2},
	{"SUTURE KIT", "NEEDLE HOLDER", 1},
	{"SUTURE KIT", "GLOVES", 2},
	{"DRESSING KIT", "GAUZE PAD", 6},
	{"DRESSING KIT", "GLOVES", 1},
	{"CLINIC PACK", "SUTURE KIT", 2},
	{"CLINIC PACK", "DRESSING KIT", 1},
}

// Seed inserts a demo catalog and, when adminPassword is set, an admin
// operator. Existing rows are left untouched so Seed can run repeatedly.
func Seed(ctx context.Context, gdb *gorm.DB, adminPassword string) error {
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]uint, len(demoProducts))
		for _, sp := range demoProducts {
			p := models.Product{
				Name:        sp.name,
				NormalRate:  decimal.RequireFromString(sp.normal),
				Description: sp.description,
			}
			if sp.reduced != "" {
				r := decimal.RequireFromString(sp.reduced)
				p.ReducedRate = &r
			}
			if err := tx.Where(models.Product{Name: sp.name}).Attrs(p).FirstOrCreate(&p).Error; err != nil {
				return fmt.Errorf("seed product %s: %w", sp.name, err)
			}
			ids[sp.name] = p.ID
		}

		for _, se := range demoEdges {
			e := models.CompositionEdge{CompositeID: ids[se.composite], ComponentID: ids[se.component]}
			if err := tx.Where(e).Attrs(models.CompositionEdge{Multiplicity: se.multiplicity}).FirstOrCreate(&e).Error; err != nil {
				return fmt.Errorf("seed edge %s -> %s: %w", se.composite, se.component, err)
			}
		}

		if adminPassword == "" {
			return nil
		}
		var op models.Operator
		err := tx.Where("username = ?", AdminUsername).First(&op).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find admin: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		op = models.Operator{Username: AdminUsername, Password: string(hash), Role: models.RoleAdmin}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		return nil
	})
}
