// Package identity registers operators, issues signed tokens and resolves
// them back to operators on each request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/diewo77/clinic-invoices/internal/services"
	"github.com/diewo77/clinic-invoices/internal/validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const issuer = "clinic-invoices"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims is the payload of an operator token. Subject holds the operator id.
type Claims struct {
	jwt.RegisteredClaims
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// Resolver turns a presented credential into the operator it names.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*models.Operator, error)
}

var _ Resolver = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.cost = cost } }

// WithCacheTTL sets how long resolved operators are cached.
func WithCacheTTL(ttl time.Duration) Option { return func(s *Service) { s.cacheTTL = ttl } }

// Service is the operator registry and token authority.
type Service struct {
	db       *gorm.DB
	secret   []byte
	ttl      time.Duration
	cacheTTL time.Duration
	cost     int
	now      func() time.Time
	log      zerolog.Logger
	cache    *CachedResolver
}

// NewService signs tokens with secret; tokens expire after ttl.
func NewService(db *gorm.DB, secret string, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		db:       db,
		secret:   []byte(secret),
		ttl:      ttl,
		cacheTTL: time.Minute,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = NewCachedResolver(dbResolver{db: db}, s.cacheTTL)
	s.cache.now = s.now
	return s
}

// Register creates an operator. The username must be at least three
// letters, digits or underscores; the password must pass
// validation.IsStrongPassword.
func (s *Service) Register(ctx context.Context, username, password string, role models.Role) (*models.Operator, error) {
	username = strings.TrimSpace(username)
	v := make(validation.Violations)
	validation.Username("username", username, v)
	validation.Password("password", password, v)
	if !v.Empty() {
		field := "username"
		if _, ok := v[field]; !ok {
			field = "password"
		}
		return nil, &services.ValidationError{Field: field, Message: v[field]}
	}
	if role != models.RoleAdmin && role != models.RoleClient {
		return nil, &services.ValidationError{Field: "role", Message: "unknown role"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	op := &models.Operator{Username: username, Password: string(hash), Role: role}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Operator{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return fmt.Errorf("check operator: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: operator %q", services.ErrDuplicate, username)
		}
		if err := tx.Create(op).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: operator %q", services.ErrDuplicate, username)
			}
			return fmt.Errorf("create operator: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("username", username).Str("role", string(role)).Msg("operator registered")
	return op, nil
}

// Login checks the credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	var op models.Operator
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Info().Str("username", username).Msg("login rejected")
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("find operator: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.Password), []byte(password)); err != nil {
		s.log.Info().Str("username", username).Msg("login rejected")
		return "", ErrInvalidCredentials
	}
	return s.Issue(&op)
}

// Issue signs a token for op.
func (s *Service) Issue(op *models.Operator) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatUint(uint64(op.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username: op.Username,
		Role:     op.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Resolve verifies token and returns the operator it names. Deleted
// operators resolve to ErrInvalidToken once their cache entry expires.
func (s *Service) Resolve(ctx context.Context, token string) (*models.Operator, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	op, err := s.cache.Resolve(ctx, uint(id))
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("%w: operator %d no longer exists", ErrInvalidToken, id)
	}
	return op, nil
}

// Forget drops a cached operator, e.g. after a role change.
func (s *Service) Forget(id uint) { s.cache.Invalidate(id) }

type dbResolver struct{ db *gorm.DB }

func (r dbResolver) Resolve(ctx context.Context, id uint) (*models.Operator, error) {
	var op models.Operator
	err := r.db.WithContext(ctx).First(&op, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find operator: %w", err)
	}
	return &op, nil
}
