package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/muebleria/internal/models"
	jwthelp "github.com/Skotchmaster/muebleria/pkg/jwt"
)

var ErrRefreshRevoked = errors.New("token expired or revoked")

type TokenRepo struct {
	DB *gorm.DB
}

func (r *TokenRepo) AddRefresh(ctx context.Context, userID uuid.UUID, token, jti string, exp time.Time) error {
	return r.DB.WithContext(ctx).Create(&models.RefreshToken{
		Token:     jwthelp.Sha256Hex(token),
		UserID:    userID,
		JTI:       jti,
		ExpiresAt: exp.Unix(),
	}).Error
}

func refreshUsable(db *gorm.DB, jti string) error {
	var refresh models.RefreshToken
	if err := db.Where("jti = ?", jti).First(&refresh).Error; err != nil {
		return err
	}
	if refresh.ExpiresAt < time.Now().Unix() || refresh.Revoked {
		return ErrRefreshRevoked
	}
	return nil
}

// RotateRefresh revokes oldJTI and stores the replacement in one transaction.
func (r *TokenRepo) RotateRefresh(ctx context.Context, oldJTI string, next models.RefreshToken) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := refreshUsable(tx, oldJTI); err != nil {
			return err
		}

		res := tx.Model(&models.RefreshToken{}).
			Where("jti = ? AND revoked = ?", oldJTI, false).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRefreshRevoked
		}

		next.Token = jwthelp.Sha256Hex(next.Token)
		return tx.Create(&next).Error
	})
}

func (r *TokenRepo) Revoke(ctx context.Context, refreshToken string) error {
	return r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ?", jwthelp.Sha256Hex(refreshToken)).
		Update("revoked", true).Error
}
