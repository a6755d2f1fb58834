// Package alerts owns the alert lifecycle: creation with best-effort medical
// enrichment, response recording, the read-side query, and the observer
// sessions that receive both as they happen.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/campus-alert-relay/internal/fanout"
	"github.com/mr1hm/campus-alert-relay/internal/metrics"
	"github.com/mr1hm/campus-alert-relay/internal/models"
	"github.com/mr1hm/campus-alert-relay/internal/repository"
)

const (
	DefaultBacklogSize = 10
	DefaultListLimit   = 50
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("alert not found")
)

// ValidationError carries the user-facing message; it matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

const msgLocationRequired = "Location data is required"

// Enricher resolves a subject to a medical snapshot. It must not fail:
// a missing or unreachable profile yields false.
type Enricher interface {
	Snapshot(ctx context.Context, subjectID string) (*models.MedicalProfileSnapshot, bool)
}

type LocationInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
}

type NewAlert struct {
	Location    *LocationInput
	StudentName string
	SubjectID   string
	AlertType   string
}

type Receipt struct {
	AlertID   string
	Timestamp time.Time
}

type Response struct {
	Status      string
	RespondedBy string
}

type Query struct {
	Status string // empty means every status
	Limit  int
}

type Page struct {
	Alerts      []models.Alert
	Total       int
	ActiveCount int
}

type Stats struct {
	TotalAlerts     int
	ActiveAlerts    int
	ConnectedAdmins int
}

type Config struct {
	BacklogSize  int
	DefaultLimit int
}

type Manager struct {
	repo        repository.AlertRepository
	enricher    Enricher
	broadcaster *fanout.Broadcaster
	metrics     *metrics.Metrics
	cfg         Config

	now   func() time.Time
	newID func() string

	// mu serializes store mutations with their broadcast and with observer
	// registration, so a session never misses or double-receives an alert.
	mu     sync.Mutex
	admins map[uint64]string
}

func NewManager(repo repository.AlertRepository, enricher Enricher, broadcaster *fanout.Broadcaster, m *metrics.Metrics, cfg Config) *Manager {
	if cfg.BacklogSize <= 0 {
		cfg.BacklogSize = DefaultBacklogSize
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultListLimit
	}
	return &Manager{
		repo:        repo,
		enricher:    enricher,
		broadcaster: broadcaster,
		metrics:     m,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		admins:      make(map[uint64]string),
	}
}

func (m *Manager) Create(ctx context.Context, in NewAlert) (Receipt, error) {
	loc, err := validateLocation(in.Location)
	if err != nil {
		return Receipt{}, err
	}

	var (
		subjectID *string
		snapshot  *models.MedicalProfileSnapshot
	)
	if in.SubjectID != "" {
		id := in.SubjectID
		subjectID = &id
		if m.enricher != nil {
			if snap, ok := m.enricher.Snapshot(ctx, in.SubjectID); ok {
				snapshot = snap
			}
		}
	}

	alert := models.Alert{
		Location: loc,
		StudentInfo: models.StudentInfo{
			Name:           orDefault(in.StudentName, models.DefaultStudentName),
			SubjectID:      subjectID,
			MedicalProfile: snapshot,
		},
		AlertType: orDefault(in.AlertType, models.DefaultAlertType),
		Status:    models.StatusActive,
	}

	// A valid alert is stored even if the sender has gone away.
	storeCtx := context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	alert.ID = m.newID()
	alert.Timestamp = m.now()
	if err := m.repo.Add(storeCtx, &alert); err != nil {
		return Receipt{}, fmt.Errorf("error storing alert: %w", err)
	}
	m.broadcast(fanout.EventEmergencyAlert, alert)

	if m.metrics != nil {
		m.metrics.AlertsCreated.Inc()
	}
	slog.Info("emergency alert received",
		"alert_id", alert.ID,
		"student", alert.StudentInfo.Name,
		"alert_type", alert.AlertType,
		"latitude", loc.Latitude,
		"longitude", loc.Longitude,
		"medical_profile", snapshot != nil,
	)

	return Receipt{AlertID: alert.ID, Timestamp: alert.Timestamp}, nil
}

// Respond records an admin response. Repeated calls overwrite the previous
// response and broadcast again.
func (m *Manager) Respond(ctx context.Context, alertID string, r Response) (models.Alert, error) {
	status := orDefault(r.Status, models.StatusResponded)
	by := orDefault(r.RespondedBy, models.DefaultResponder)

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.repo.UpdateResponse(ctx, alertID, status, m.now(), by)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Alert{}, ErrNotFound
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("error recording response: %w", err)
	}

	updated, err := m.repo.GetByID(ctx, alertID)
	if err != nil {
		return models.Alert{}, fmt.Errorf("error reloading alert: %w", err)
	}
	m.broadcast(fanout.EventAlertResponse, *updated)

	if m.metrics != nil {
		m.metrics.AlertResponses.Inc()
	}
	slog.Info("alert response recorded", "alert_id", alertID, "status", status, "responded_by", by)

	return updated.Clone(), nil
}

func (m *Manager) List(ctx context.Context, q Query) (Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}

	filter := repository.Filter{Limit: limit}
	var statusFilter *string
	if q.Status != "" {
		s := q.Status
		statusFilter = &s
		filter.Status = statusFilter
	}

	alerts, err := m.repo.ListAlerts(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("error listing alerts: %w", err)
	}
	total, err := m.repo.Count(ctx, statusFilter)
	if err != nil {
		return Page{}, err
	}
	active, err := m.activeCount(ctx)
	if err != nil {
		return Page{}, err
	}

	return Page{Alerts: alerts, Total: total, ActiveCount: active}, nil
}

func (m *Manager) Get(ctx context.Context, alertID string) (models.Alert, error) {
	a, err := m.repo.GetByID(ctx, alertID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Alert{}, ErrNotFound
	}
	if err != nil {
		return models.Alert{}, err
	}
	return *a, nil
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	total, err := m.repo.Count(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	active, err := m.activeCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalAlerts:     total,
		ActiveAlerts:    active,
		ConnectedAdmins: m.ConnectedObservers(),
	}, nil
}

// Connect registers an observer session and returns it together with its
// backlog: the most recent active alerts, oldest first.
func (m *Manager) Connect(ctx context.Context, name string) (*fanout.Subscription, []models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backlog, err := m.repo.RecentActive(ctx, m.cfg.BacklogSize)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading backlog: %w", err)
	}

	sub := m.broadcaster.Subscribe(name)
	m.admins[sub.ID] = name
	m.observersChanged()
	slog.Info("observer connected", "subscriber_id", sub.ID, "name", name, "backlog", len(backlog))

	return sub, backlog, nil
}

// Listen subscribes to live events without joining as an observer. The
// subscription is counted once Register is called for it.
func (m *Manager) Listen(name string) *fanout.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcaster.Subscribe(name)
}

// Register turns a listening subscription into an observer session and
// returns its backlog, oldest first.
func (m *Manager) Register(ctx context.Context, sub *fanout.Subscription, name string) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backlog, err := m.repo.RecentActive(ctx, m.cfg.BacklogSize)
	if err != nil {
		return nil, fmt.Errorf("error loading backlog: %w", err)
	}

	m.admins[sub.ID] = name
	m.observersChanged()
	slog.Info("observer registered", "subscriber_id", sub.ID, "name", name, "backlog", len(backlog))

	return backlog, nil
}

func (m *Manager) Disconnect(sub *fanout.Subscription) {
	if sub == nil {
		return
	}
	m.broadcaster.Unsubscribe(sub.ID)

	m.mu.Lock()
	name, registered := m.admins[sub.ID]
	delete(m.admins, sub.ID)
	m.observersChanged()
	m.mu.Unlock()

	if registered {
		slog.Info("observer disconnected", "subscriber_id", sub.ID, "name", name)
	}
}

// ConnectedObservers counts registered observer sessions.
func (m *Manager) ConnectedObservers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admins)
}

func (m *Manager) broadcast(kind fanout.EventKind, a models.Alert) {
	dropped := m.broadcaster.Broadcast(fanout.Event{Kind: kind, Alert: a})
	if dropped > 0 && m.metrics != nil {
		m.metrics.BroadcastDropped.Add(float64(dropped))
	}
}

// observersChanged must be called with mu held.
func (m *Manager) observersChanged() {
	if m.metrics != nil {
		m.metrics.ConnectedObservers.Set(float64(len(m.admins)))
	}
}

func (m *Manager) activeCount(ctx context.Context) (int, error) {
	active := models.StatusActive
	return m.repo.Count(ctx, &active)
}

func validateLocation(in *LocationInput) (models.Location, error) {
	if in == nil || !finite(in.Latitude) || !finite(in.Longitude) {
		return models.Location{}, &ValidationError{Message: msgLocationRequired}
	}
	loc := models.Location{
		Latitude:  *in.Latitude,
		Longitude: *in.Longitude,
		Altitude:  copyFloat(in.Altitude),
		Speed:     copyFloat(in.Speed),
		Heading:   copyFloat(in.Heading),
	}
	if in.Accuracy != nil {
		loc.Accuracy = *in.Accuracy
	}
	return loc, nil
}

func finite(f *float64) bool {
	return f != nil && !math.IsNaN(*f) && !math.IsInf(*f, 0)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
