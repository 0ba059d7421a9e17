package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
	"github.com/samirrijal/wilusmap/internal/core/ports"
	"github.com/samirrijal/wilusmap/internal/core/sidebar"
	"github.com/samirrijal/wilusmap/internal/pkg/metrics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionLimit    = errors.New("session limit reached")
)

var tracer = otel.Tracer("github.com/samirrijal/wilusmap/internal/core/usecases")

// Snapshot is one complete, immutable load of the location store.
type Snapshot struct {
	// Records holds the valid records in fetch order.
	Records  []domain.LocationRecord
	Index    sidebar.GroupIndex
	Fetched  int
	Invalid  int
	LoadedAt time.Time

	// Seq increases with every load; sessions never render an older one.
	Seq uint64

	// Err is the fetch failure that produced an empty snapshot, if any.
	Err error
}

// MapService loads locations and owns the map sessions rendered from them.
type MapService struct {
	repo      ports.LocationRepository
	publisher ports.EventPublisher
	opts      mapsurface.Options

	snap   atomic.Pointer[Snapshot]
	seq    atomic.Uint64
	loadMu sync.Mutex

	limits SessionLimits

	mu       sync.Mutex
	sessions map[string]*Session
	byTarget map[string]*Session
}

// SessionLimits bounds the sessions a MapService keeps alive. Zero values
// disable the corresponding limit.
type SessionLimits struct {
	// IdleTTL is how long a session may go without a viewer call before
	// EvictIdle removes it.
	IdleTTL time.Duration
	// Max caps the number of live sessions.
	Max int
}

// Option configures a MapService.
type Option func(*MapService)

// WithSessionLimits sets the idle TTL and session cap.
func WithSessionLimits(l SessionLimits) Option {
	return func(s *MapService) { s.limits = l }
}

// NewMapService creates a MapService with an empty snapshot. publisher may be nil.
func NewMapService(repo ports.LocationRepository, publisher ports.EventPublisher, opts mapsurface.Options, options ...Option) *MapService {
	s := &MapService{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		sessions:  make(map[string]*Session),
		byTarget:  make(map[string]*Session),
	}
	for _, o := range options {
		o(s)
	}
	s.snap.Store(&Snapshot{LoadedAt: time.Now()})
	return s
}

// Snapshot returns the current snapshot.
func (s *MapService) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Options returns the surface options sessions are created with.
func (s *MapService) Options() mapsurface.Options {
	return s.opts
}

// Load fetches every record, normalizes it and rebuilds the group index, then
// swaps the new snapshot in and re-renders every session from it. A fetch
// failure yields an empty snapshot; it is logged, not returned.
func (s *MapService) Load(ctx context.Context) *Snapshot {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	ctx, span := tracer.Start(ctx, "MapService.Load")
	defer span.End()

	start := time.Now()
	snap := s.build(ctx)
	metrics.LocationLoadDuration.Observe(time.Since(start).Seconds())
	metrics.LocationsLoaded.Set(float64(len(snap.Records)))

	span.SetAttributes(
		attribute.Int("locations.fetched", snap.Fetched),
		attribute.Int("locations.valid", len(snap.Records)),
		attribute.Int("locations.invalid", snap.Invalid),
	)
	if snap.Err != nil {
		span.RecordError(snap.Err)
		span.SetStatus(codes.Error, "fetch failed")
		metrics.LocationLoads.WithLabelValues("failed").Inc()
	} else {
		metrics.LocationLoads.WithLabelValues("ok").Inc()
	}

	snap.Seq = s.seq.Add(1)
	s.snap.Store(snap)

	for _, sess := range s.Sessions() {
		if err := sess.render(ctx, snap); err != nil && !errors.Is(err, ErrSessionClosed) {
			slog.Warn("session re-render failed", "session", sess.ID(), "error", err)
		}
	}

	s.publish(ctx, &domain.MapEvent{Type: domain.EventReloaded, Locations: len(snap.Records), Time: time.Now()})
	return snap
}

func (s *MapService) build(ctx context.Context) *Snapshot {
	raw, err := s.repo.FetchLocations(ctx)
	if err != nil {
		slog.Error("fetch locations failed, showing an empty map", "error", err)
		return &Snapshot{LoadedAt: time.Now(), Err: fmt.Errorf("fetch locations: %w", err)}
	}

	snap := &Snapshot{Fetched: len(raw), Records: make([]domain.LocationRecord, 0, len(raw))}
	for _, r := range raw {
		rec, err := geometry.NormalizeRecord(r)
		if err != nil {
			reason := geometry.Reason(err)
			metrics.InvalidRecords.WithLabelValues(reason).Inc()
			slog.Debug("skipping location record", "id", r.ID, "reason", reason, "error", err)
			snap.Invalid++
			continue
		}
		snap.Records = append(snap.Records, rec)
	}
	snap.Index = sidebar.Build(snap.Records)
	snap.LoadedAt = time.Now()

	slog.Info("locations loaded",
		"fetched", snap.Fetched,
		"valid", len(snap.Records),
		"invalid", snap.Invalid,
		"groups", len(snap.Index.Groups),
	)
	return snap
}

// Attach returns the session bound to target, creating and rendering it if
// none exists yet. Attaching to a target that already has a session is a
// no-op that logs a warning and returns the existing session with
// created=false.
func (s *MapService) Attach(ctx context.Context, target string) (sess *Session, created bool, err error) {
	if target == "" {
		target = "map"
	}

	s.mu.Lock()
	if existing, ok := s.byTarget[target]; ok {
		existing.lastUsed.Store(time.Now().UnixNano())
		s.mu.Unlock()
		slog.Warn("map already attached, skipping initialization", "target", target, "session", existing.ID())
		return existing, false, nil
	}

	var evicted []*Session
	if s.limits.Max > 0 && len(s.sessions) >= s.limits.Max {
		evicted = s.takeIdleLocked(time.Now())
		if len(s.sessions) >= s.limits.Max {
			s.mu.Unlock()
			s.closeEvicted(evicted)
			return nil, false, fmt.Errorf("%w: %d live sessions", ErrSessionLimit, s.limits.Max)
		}
	}

	surface := mapsurface.New(s.opts)
	if err := surface.Attach(target); err != nil {
		s.mu.Unlock()
		s.closeEvicted(evicted)
		return nil, false, err
	}
	sess = newSession(uuid.NewString(), surface, s.opts, s.publisher)
	s.sessions[sess.ID()] = sess
	s.byTarget[target] = sess
	s.mu.Unlock()
	s.closeEvicted(evicted)

	metrics.ActiveSessions.Inc()
	slog.Info("map session attached", "target", target, "session", sess.ID())

	if err := sess.render(ctx, s.Snapshot()); err != nil {
		return sess, true, err
	}
	return sess, true, nil
}

// Session looks up a session by ID.
func (s *MapService) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Sessions returns all live sessions.
func (s *MapService) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Detach closes a session and frees its target.
func (s *MapService) Detach(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		delete(s.byTarget, sess.Target())
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Close()
	metrics.ActiveSessions.Dec()
	return nil
}

// EvictIdle closes every session whose last viewer call is at least IdleTTL
// before now. It returns the number of sessions evicted.
func (s *MapService) EvictIdle(now time.Time) int {
	if s.limits.IdleTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	evicted := s.takeIdleLocked(now)
	s.mu.Unlock()
	s.closeEvicted(evicted)
	return len(evicted)
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (s *MapService) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.limits.IdleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.EvictIdle(now); n > 0 {
				slog.Info("evicted idle map sessions", "count", n, "idle_ttl", s.limits.IdleTTL)
			}
		}
	}
}

// takeIdleLocked removes idle sessions from the registry. s.mu must be held.
func (s *MapService) takeIdleLocked(now time.Time) []*Session {
	if s.limits.IdleTTL <= 0 {
		return nil
	}
	var out []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.LastUsed()) < s.limits.IdleTTL {
			continue
		}
		delete(s.sessions, id)
		delete(s.byTarget, sess.Target())
		out = append(out, sess)
	}
	return out
}

func (s *MapService) closeEvicted(sessions []*Session) {
	for _, sess := range sessions {
		sess.Close()
		metrics.ActiveSessions.Dec()
		slog.Debug("map session evicted", "session", sess.ID(), "target", sess.Target())
	}
}

// Close detaches every session.
func (s *MapService) Close() {
	for _, sess := range s.Sessions() {
		_ = s.Detach(sess.ID())
	}
}

type invalidator interface {
	Invalidate(ctx context.Context) error
}

// Reload drops cached records, if the repository caches, then loads.
func (s *MapService) Reload(ctx context.Context) *Snapshot {
	if inv, ok := s.repo.(invalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			slog.Warn("invalidate location cache", "error", err)
		}
	}
	return s.Load(ctx)
}

// WatchChanges reloads whenever the subscriber reports that the location
// store changed.
func (s *MapService) WatchChanges(ctx context.Context, sub ports.EventSubscriber) error {
	return sub.SubscribeLocationChanges(ctx, func(ctx context.Context) error {
		slog.Info("location store changed, reloading")
		s.Reload(ctx)
		return nil
	})
}

func (s *MapService) publish(ctx context.Context, ev *domain.MapEvent) {
	publishEvent(ctx, s.publisher, ev)
}

func publishEvent(ctx context.Context, p ports.EventPublisher, ev *domain.MapEvent) {
	if p == nil {
		return
	}
	if err := p.PublishMapEvent(ctx, ev); err != nil {
		slog.Warn("publish map event failed", "type", ev.Type, "error", err)
		return
	}
	metrics.MapEventsPublished.WithLabelValues(string(ev.Type)).Inc()
}
