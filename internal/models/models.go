package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type Product struct {
	ID          uuid.UUID       `gorm:"primaryKey"                           json:"id"`
	Name        string          `gorm:"not null"                             json:"name"`
	Description string          `gorm:"not null;default:''"                  json:"description"`
	Category    string          `gorm:"index;not null;default:''"            json:"category"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"          json:"price"`
	Stock       int             `gorm:"not null;default:0;check:stock >= 0"  json:"stock"`
	ImageURL    string          `gorm:"not null;default:''"                  json:"image_url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type User struct {
	ID           uuid.UUID `gorm:"primaryKey"        json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	Name         string    `gorm:"not null;default:''"  json:"name"`
	PasswordHash string    `gorm:"not null"          json:"-"`
	Role         string    `gorm:"not null"          json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type RefreshToken struct {
	ID        uuid.UUID `gorm:"primaryKey"         json:"id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	UserID    uuid.UUID `gorm:"index;not null"     json:"user_id"`
	JTI       string    `gorm:"uniqueIndex;not null" json:"jti"`
	ExpiresAt int64     `gorm:"not null"           json:"expires_at"`
	Revoked   bool      `gorm:"default:false"      json:"revoked"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (r *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
