// Package users handles student accounts, the configured admin account and
// the bearer tokens both receive on login.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mr1hm/campus-alert-relay/internal/models"
	"github.com/mr1hm/campus-alert-relay/internal/repository"
)

const (
	AdminID  = "admin"
	issuer   = "campus-alert-relay"
	tokenTTL = 12 * time.Hour
)

var (
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("username and password are required")
	ErrInvalidToken       = errors.New("invalid token")
)

type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type AdminAccount struct {
	Username string
	Password string
	Name     string
}

type Config struct {
	Admin      AdminAccount
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
}

type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// Session is what a successful login returns.
type Session struct {
	User  models.User
	Token string
}

type Service struct {
	repo      repository.UserRepository
	secret    []byte
	ttl       time.Duration
	cost      int
	admin     *models.User
	adminHash []byte
	now       func() time.Time
}

func NewService(repo repository.UserRepository, cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	s := &Service{
		repo:   repo,
		secret: cfg.Secret,
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if s.ttl <= 0 {
		s.ttl = tokenTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}

	// Without a password the admin account stays disabled.
	if cfg.Admin.Username != "" && cfg.Admin.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Admin.Password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("error hashing admin password: %w", err)
		}
		s.adminHash = hash
		s.admin = &models.User{
			ID:       AdminID,
			Username: cfg.Admin.Username,
			Name:     cfg.Admin.Name,
			Role:     models.RoleAdmin,
		}
	} else {
		slog.Warn("admin password not configured, admin login disabled")
	}
	return s, nil
}

func (s *Service) Register(ctx context.Context, r Registration) (*models.User, error) {
	username := strings.TrimSpace(r.Username)
	if username == "" || r.Password == "" {
		return nil, ErrInvalidInput
	}
	if s.admin != nil && strings.EqualFold(username, s.admin.Username) {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	u := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Name:         r.Name,
		Email:        r.Email,
		Role:         models.RoleStudent,
		CreatedAt:    s.now(),
	}
	if u.Name == "" {
		u.Name = username
	}

	err = s.repo.AddUser(ctx, u)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Login authenticates a stored user, or the configured admin account.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	if sess, err := s.AdminLogin(username, password); err == nil {
		return sess, nil
	}

	u, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.repo.UpdateLastLogin(ctx, u.ID, now); err != nil {
		return Session{}, err
	}
	u.LastLogin = &now

	token, err := s.IssueToken(*u)
	if err != nil {
		return Session{}, err
	}
	slog.Info("user logged in", "user_id", u.ID, "username", u.Username)
	return Session{User: *u, Token: token}, nil
}

func (s *Service) AdminLogin(username, password string) (Session, error) {
	if s.admin == nil || username != s.admin.Username {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(*s.admin)
	if err != nil {
		return Session{}, err
	}
	slog.Info("admin logged in", "username", username)
	return Session{User: *s.admin, Token: token}, nil
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) IssueToken(u models.User) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Username: u.Username,
		Name:     u.Name,
		Role:     u.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return signed, nil
}

func (s *Service) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
