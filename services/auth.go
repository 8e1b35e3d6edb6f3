package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"backoffice/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

const jwtIssuerAdmin = "backoffice-admin"

type AdminClaims struct {
	AdminID uint   `json:"admin_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type LoginResult struct {
	Token     string        `json:"access_token"`
	Type      string        `json:"token_type"`
	ExpiresIn int64         `json:"expires_in"`
	Admin     *models.Admin `json:"admin"`
}

type AuthService struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(db *gorm.DB, secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthService{db: db, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *AuthService) CreateAdmin(ctx context.Context, username, password, role string) (*models.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 8 {
		return nil, newError(KindInvalidArgument, "username is required and password needs at least 8 characters")
	}
	if role != models.RoleSuper && role != models.RoleOperator {
		return nil, newError(KindInvalidArgument, "role must be super or operator")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	admin := models.Admin{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, newError(KindConflict, "admin %s already exists", username)
		}
		return nil, err
	}
	return &admin, nil
}

// Bootstrap creates the first super admin when the table is empty.
func (s *AuthService) Bootstrap(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.CreateAdmin(ctx, username, password, models.RoleSuper); err != nil {
		return false, err
	}
	slog.Info("bootstrap super admin created", "username", username)
	return true, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var admin models.Admin
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&admin).Error
	if isNotFound(err) {
		return nil, newError(KindUnauthorized, "invalid username or password")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return nil, newError(KindUnauthorized, "invalid username or password")
	}
	if !admin.IsActive {
		return nil, newError(KindForbidden, "account is disabled")
	}

	token, _, err := s.IssueToken(&admin)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.db.WithContext(ctx).Model(&admin).Update("last_login_at", now).Error; err != nil {
		slog.Warn("failed to record admin login", "admin", admin.ID, "error", err)
	}
	admin.LastLoginAt = &now

	return &LoginResult{
		Token:     token,
		Type:      "Bearer",
		ExpiresIn: int64(s.ttl.Seconds()),
		Admin:     &admin,
	}, nil
}

func (s *AuthService) IssueToken(admin *models.Admin) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := AdminClaims{
		AdminID: admin.ID,
		Role:    admin.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuerAdmin,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return token, expiresAt, err
}

func (s *AuthService) ParseToken(token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtIssuerAdmin),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, wrapError(KindUnauthorized, err, "token expired")
		}
		return nil, wrapError(KindUnauthorized, err, "invalid token")
	}
	return claims, nil
}
