package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/muebleria/internal/models"
)

// GormStore is the durable cart of one signed-in user, one row per (user, product).
type GormStore struct {
	DB     *gorm.DB
	UserID uuid.UUID
}

func NewGormStore(db *gorm.DB, userID uuid.UUID) *GormStore {
	return &GormStore{DB: db, UserID: userID}
}

func (s *GormStore) Lines(ctx context.Context) ([]Line, error) {
	var items []models.CartItem
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", s.UserID).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines, nil
}

// Add is a single upsert so concurrent adds from two tabs both land.
func (s *GormStore) Add(ctx context.Context, productID uuid.UUID, qty int) error {
	item := models.CartItem{UserID: s.UserID, ProductID: productID, Quantity: qty}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&item).Error
}

func (s *GormStore) Set(ctx context.Context, productID uuid.UUID, qty int) error {
	item := models.CartItem{UserID: s.UserID, ProductID: productID, Quantity: qty}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&item).Error
}

func (s *GormStore) Remove(ctx context.Context, productID uuid.UUID) error {
	return s.DB.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", s.UserID, productID).
		Delete(&models.CartItem{}).Error
}

func (s *GormStore) Clear(ctx context.Context) error {
	return s.DB.WithContext(ctx).Where("user_id = ?", s.UserID).Delete(&models.CartItem{}).Error
}
