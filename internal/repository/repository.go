package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/campus-alert-relay/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

type Filter struct {
	Limit  int
	Status *string // exact match on alert status
}

// AlertRepository is the ordered alert store. Alerts are append-only apart
// from the response fields touched by UpdateResponse.
type AlertRepository interface {
	Add(ctx context.Context, a *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts Filter) ([]models.Alert, error)
	Count(ctx context.Context, status *string) (int, error)
	RecentActive(ctx context.Context, n int) ([]models.Alert, error)
	UpdateResponse(ctx context.Context, id, status string, at time.Time, by string) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.MedicalProfile, error)
	UpsertProfile(ctx context.Context, p *models.MedicalProfile) error
	ListProfiles(ctx context.Context) ([]models.MedicalProfile, error)
}

type UserRepository interface {
	AddUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	ListUsers(ctx context.Context) ([]models.User, error)
}
