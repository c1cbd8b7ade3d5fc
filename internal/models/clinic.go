package models

import "time"

// Customer is a doctor or other responsible party that invoices are issued to.
// Name, address and email are stored upper-case for indexing.
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Address   string    `gorm:"size:500;index" json:"address,omitempty"`
	Phone     string    `gorm:"size:20;index" json:"phone"`
	Email     string    `gorm:"size:255;index" json:"email,omitempty"`
	Patients  []Patient `gorm:"foreignKey:DoctorID;constraint:OnDelete:CASCADE" json:"-"`
}

// Patient belongs to exactly one doctor; the name is unique per doctor.
type Patient struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	DoctorID  uint      `gorm:"not null;uniqueIndex:idx_patient_doctor,priority:2" json:"doctor_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_patient_doctor,priority:1;index" json:"name"`
}
