package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/muebleria/internal/models"
	"github.com/Skotchmaster/muebleria/internal/repo"
	pkghash "github.com/Skotchmaster/muebleria/pkg/hash"
	jwthelp "github.com/Skotchmaster/muebleria/pkg/jwt"
	"github.com/Skotchmaster/muebleria/pkg/logging"
	"github.com/Skotchmaster/muebleria/pkg/tokens"
)

const minPasswordLen = 8

type AuthService struct {
	Users         *repo.UserRepo
	Tokens        *repo.TokenRepo
	JWTSecret     []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type LoginResult struct {
	tokens.Pair
	User *models.User
}

func (h *AuthService) accessTTL() time.Duration {
	if h.AccessTTL > 0 {
		return h.AccessTTL
	}
	return 15 * time.Minute
}

func (h *AuthService) refreshTTL() time.Duration {
	if h.RefreshTTL > 0 {
		return h.RefreshTTL
	}
	return 7 * 24 * time.Hour
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (h *AuthService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password required: %w", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("email invalid: %w", ErrValidation)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must have at least %d characters: %w", minPasswordLen, ErrValidation)
	}

	pwHash, err := pkghash.HashPassword(password)
	if err != nil {
		l.Error("register_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: pwHash,
		Role:         models.RoleCustomer,
	}
	if err := h.Users.CreateUserIfNotExists(ctx, user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExist) {
			return nil, ErrUserAlreadyExist
		}
		return nil, err
	}
	return user, nil
}

func (h *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password required: %w", ErrValidation)
	}

	user, err := h.Users.UserExist(ctx, email, password)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	pair, err := h.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := h.Tokens.AddRefresh(ctx, user.ID, pair.RefreshToken, pair.jti, pair.RefreshExp); err != nil {
		return nil, err
	}

	return &LoginResult{Pair: pair.Pair, User: user}, nil
}

type issued struct {
	tokens.Pair
	jti string
}

func (h *AuthService) issue(_ context.Context, user *models.User) (*issued, error) {
	now := time.Now()
	accessExp := now.Add(h.accessTTL())
	refreshExp := now.Add(h.refreshTTL())
	jti := jwthelp.NewJTI()

	access, err := tokens.SignAccess(h.JWTSecret, user.ID.String(), user.Role, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := tokens.SignRefresh(h.RefreshSecret, user.ID.String(), jti, refreshExp)
	if err != nil {
		return nil, err
	}

	return &issued{
		Pair: tokens.Pair{
			AccessToken:  access,
			RefreshToken: refresh,
			AccessExp:    accessExp,
			RefreshExp:   refreshExp,
			Role:         user.Role,
		},
		jti: jti,
	}, nil
}

// Refresh rotates a refresh token. The role is re-read from the user row so a
// promotion or demotion applies on the next refresh.
func (h *AuthService) Refresh(ctx context.Context, refreshToken string) (*tokens.Pair, error) {
	claims, err := tokens.RefreshClaimsFromToken(refreshToken, h.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidRefreshToken)
	}

	user, err := h.Users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user gone", ErrInvalidRefreshToken)
		}
		return nil, err
	}

	next, err := h.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	err = h.Tokens.RotateRefresh(ctx, claims.ID, models.RefreshToken{
		Token:     next.RefreshToken,
		UserID:    user.ID,
		JTI:       next.jti,
		ExpiresAt: next.RefreshExp.Unix(),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, repo.ErrRefreshRevoked) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
		}
		return nil, err
	}

	return &next.Pair, nil
}

func (h *AuthService) LogOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return h.Tokens.Revoke(ctx, refreshToken)
}

// PromoteToAdmin grants the admin role; the server exposes it as -make-admin.
func (h *AuthService) PromoteToAdmin(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := h.Users.SetRole(ctx, email, models.RoleAdmin); err != nil {
		return notFound(err, "user "+email)
	}
	return nil
}
