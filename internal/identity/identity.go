// Package identity registers users, checks passwords and issues and verifies
// HS256 bearer tokens carrying the user id and role.
package identity

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

type Store interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

type Config struct {
	Secret           string
	TokenTTL         time.Duration
	BcryptCost       int
	AllowAdminSignup bool
}

type Service struct {
	store Store
	cfg   Config
	clock clock.Clock
}

func NewService(store Store, cfg Config, clk clock.Clock) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{store: store, cfg: cfg, clock: clk}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// Session is what register and login hand back to the client.
type Session struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      domain.PublicUser `json:"user"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	switch {
	case name == "":
		return Session{}, domain.Invalidf("name is required")
	case !validEmail(email):
		return Session{}, domain.Invalidf("invalid email %q", in.Email)
	case len(in.Password) < minPasswordLen:
		return Session{}, domain.Invalidf("password must be at least %d characters", minPasswordLen)
	case !role.Valid():
		return Session{}, domain.Invalidf("unknown role %q", in.Role)
	case role == domain.RoleAdmin && !s.cfg.AllowAdminSignup:
		return Session{}, domain.Errorf(domain.ErrForbidden, "admin accounts cannot self-register")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return Session{}, errors.Wrap(err, "hash password")
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return Session{}, err
	}
	return s.session(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, domain.ErrNotFound) {
		return Session{}, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
	}
	return s.session(u)
}

func (s *Service) Profile(ctx context.Context, userID string) (domain.PublicUser, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return domain.PublicUser{}, errors.Wrapf(err, "user %s", userID)
	}
	return u.Public(), nil
}

// Authenticate verifies a bearer token and returns the principal it carries.
func (s *Service) Authenticate(token string) (domain.Principal, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(s.clock.Now), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return domain.Principal{}, domain.Errorf(domain.ErrUnauthenticated, "invalid token")
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	p := domain.Principal{UserID: sub, Role: domain.Role(role)}
	if p.UserID == "" || !p.Role.Valid() {
		return domain.Principal{}, domain.Errorf(domain.ErrUnauthenticated, "invalid claims")
	}
	return p, nil
}

func (s *Service) session(u domain.User) (Session, error) {
	now := s.clock.Now()
	exp := now.Add(s.cfg.TokenTTL)
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return Session{}, errors.Wrap(err, "sign token")
	}
	return Session{Token: signed, ExpiresAt: exp, User: u.Public()}, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
