package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/campus-alert-relay/internal/models"
	"github.com/mr1hm/campus-alert-relay/internal/repository"
)

var (
	ErrNotFound = errors.New("medical profile not found")
	ErrInvalid  = errors.New("invalid medical profile")
)

// Invalidator is notified after a profile changes so cached snapshots are
// not served stale.
type Invalidator interface {
	Invalidate(userID string)
}

// Update is a partial profile. Nil fields keep their stored value.
type Update struct {
	UserID              string                    `json:"userId"`
	FullName            *string                   `json:"fullName"`
	DateOfBirth         *string                   `json:"dateOfBirth"`
	Gender              *string                   `json:"gender"`
	BloodType           *string                   `json:"bloodType"`
	StudentID           *string                   `json:"studentId"`
	Allergies           []string                  `json:"allergies"`
	Conditions          []models.Condition        `json:"conditions"`
	EmergencyContacts   []models.EmergencyContact `json:"emergencyContacts"`
	Medications         []models.Medication       `json:"medications"`
	SpecialInstructions *string                   `json:"specialInstructions"`
}

type Service struct {
	repo        repository.ProfileRepository
	invalidator Invalidator
	now         func() time.Time
}

func NewService(repo repository.ProfileRepository, invalidator Invalidator) *Service {
	return &Service{
		repo:        repo,
		invalidator: invalidator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, userID string) (*models.MedicalProfile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Service) List(ctx context.Context) ([]models.MedicalProfile, error) {
	return s.repo.ListProfiles(ctx)
}

// Upsert creates the profile or merges the update into the stored one.
func (s *Service) Upsert(ctx context.Context, u Update) (*models.MedicalProfile, error) {
	if u.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}

	p, err := s.repo.GetProfile(ctx, u.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		p = &models.MedicalProfile{UserID: u.UserID}
	case err != nil:
		return nil, err
	}

	merge(p, u)
	p.ApplyDefaults()
	if err := validate(p); err != nil {
		return nil, err
	}
	p.LastUpdated = s.now()

	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(p.UserID)
	}

	slog.Info("medical profile updated", "user_id", p.UserID)
	return p, nil
}

func merge(p *models.MedicalProfile, u Update) {
	setString(&p.FullName, u.FullName)
	setString(&p.DateOfBirth, u.DateOfBirth)
	setString(&p.Gender, u.Gender)
	setString(&p.BloodType, u.BloodType)
	setString(&p.StudentID, u.StudentID)
	setString(&p.SpecialInstructions, u.SpecialInstructions)
	if u.Allergies != nil {
		p.Allergies = u.Allergies
	}
	if u.Conditions != nil {
		p.Conditions = u.Conditions
	}
	if u.EmergencyContacts != nil {
		p.EmergencyContacts = u.EmergencyContacts
	}
	if u.Medications != nil {
		p.Medications = u.Medications
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func validate(p *models.MedicalProfile) error {
	if !models.ValidBloodType(p.BloodType) {
		return fmt.Errorf("%w: unknown blood type %q", ErrInvalid, p.BloodType)
	}
	for _, c := range p.Conditions {
		if c.Name == "" {
			return fmt.Errorf("%w: condition name is required", ErrInvalid)
		}
		if !c.Severity.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrInvalid, c.Severity)
		}
	}
	return nil
}
