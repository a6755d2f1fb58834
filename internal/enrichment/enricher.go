// Package enrichment attaches medical profile snapshots to new alerts on a
// best-effort basis. A lookup never fails the caller: every error path
// degrades to "no snapshot".
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mr1hm/campus-alert-relay/internal/metrics"
	"github.com/mr1hm/campus-alert-relay/internal/models"
	"github.com/mr1hm/campus-alert-relay/internal/repository"
)

const (
	DefaultTimeout   = 2 * time.Second
	DefaultCacheSize = 512
	DefaultCacheTTL  = 5 * time.Minute
)

// ProfileSource is the medical profile store as seen by the enricher.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.MedicalProfile, error)
}

type cacheEntry struct {
	snapshot  models.MedicalProfileSnapshot
	fetchedAt time.Time
}

type Enricher struct {
	source  ProfileSource
	timeout time.Duration
	ttl     time.Duration
	cache   *lru.Cache[string, cacheEntry]
	metrics *metrics.Metrics
	now     func() time.Time

	// generations counts invalidations per subject. A lookup only fills the
	// cache if no invalidation happened while it was in flight.
	mu          sync.Mutex
	generations map[string]uint64
}

type Option func(*Enricher)

func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.timeout = d }
}

// WithCache sets the LRU size and entry lifetime. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(e *Enricher) {
		e.ttl = ttl
		if size <= 0 {
			e.cache = nil
			return
		}
		e.cache, _ = lru.New[string, cacheEntry](size)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enricher) { e.metrics = m }
}

func New(source ProfileSource, opts ...Option) *Enricher {
	cache, _ := lru.New[string, cacheEntry](DefaultCacheSize)
	e := &Enricher{
		source:      source,
		timeout:     DefaultTimeout,
		ttl:         DefaultCacheTTL,
		cache:       cache,
		now:         time.Now,
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns the subject's medical snapshot, or false when there is
// none or it could not be fetched.
func (e *Enricher) Snapshot(ctx context.Context, subjectID string) (snap *models.MedicalProfileSnapshot, ok bool) {
	if subjectID == "" || e == nil || e.source == nil {
		return nil, false
	}

	if s, hit := e.cached(subjectID); hit {
		return &s, true
	}

	defer func() {
		if r := recover(); r != nil {
			e.fail(subjectID, "panic", fmt.Errorf("%v", r))
			snap, ok = nil, false
		}
	}()

	gen := e.generation(subjectID)

	lookupCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	profile, err := e.source.GetProfile(lookupCtx, subjectID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		slog.Debug("no medical profile for subject", "subject_id", subjectID)
		return nil, false
	case errors.Is(err, context.DeadlineExceeded):
		e.fail(subjectID, "timeout", err)
		return nil, false
	case err != nil:
		e.fail(subjectID, "error", err)
		return nil, false
	case profile == nil:
		return nil, false
	}

	s := profile.Snapshot()
	e.store(subjectID, gen, s)
	out := s.Clone()
	return &out, true
}

// Invalidate drops any cached snapshot for the subject; call it after the
// profile changes.
func (e *Enricher) Invalidate(subjectID string) {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	e.generations[subjectID]++
	e.cache.Remove(subjectID)
	e.mu.Unlock()
}

func (e *Enricher) generation(subjectID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generations[subjectID]
}

func (e *Enricher) store(subjectID string, gen uint64, s models.MedicalProfileSnapshot) {
	if e.cache == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generations[subjectID] != gen {
		slog.Debug("profile changed during lookup, not caching", "subject_id", subjectID)
		return
	}
	e.cache.Add(subjectID, cacheEntry{snapshot: s.Clone(), fetchedAt: e.now()})
}

func (e *Enricher) cached(subjectID string) (models.MedicalProfileSnapshot, bool) {
	if e.cache == nil {
		return models.MedicalProfileSnapshot{}, false
	}
	entry, ok := e.cache.Get(subjectID)
	if !ok {
		return models.MedicalProfileSnapshot{}, false
	}
	if e.ttl > 0 && e.now().Sub(entry.fetchedAt) > e.ttl {
		e.cache.Remove(subjectID)
		return models.MedicalProfileSnapshot{}, false
	}
	return entry.snapshot.Clone(), true
}

func (e *Enricher) fail(subjectID, reason string, err error) {
	slog.Warn("could not fetch medical profile", "subject_id", subjectID, "reason", reason, "error", err)
	if e.metrics != nil {
		e.metrics.EnrichmentFailures.WithLabelValues(reason).Inc()
	}
}
