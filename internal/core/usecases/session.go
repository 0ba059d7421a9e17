package usecases

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
	"github.com/samirrijal/wilusmap/internal/core/ports"
	"github.com/samirrijal/wilusmap/internal/core/sidebar"
	"github.com/samirrijal/wilusmap/internal/pkg/metrics"
)

// ErrMalformedInput is returned when a coordinate field is not a number.
var ErrMalformedInput = errors.New("malformed coordinate input")

// Containment check result texts.
const (
	MessageInside    = "Inside a mapped area"
	MessageOutside   = "Outside all mapped areas"
	MessageMalformed = "Latitude and longitude must both be numbers"
)

// CheckStatus drives the inside/outside color feedback.
type CheckStatus string

const (
	StatusInside  CheckStatus = "inside"
	StatusOutside CheckStatus = "outside"
)

// CheckResult is the outcome of a coordinate containment check.
type CheckResult struct {
	Coordinate domain.GeoPoint `json:"coordinate"`
	Inside     bool            `json:"inside"`
	Status     CheckStatus     `json:"status"`
	Message    string          `json:"message"`
}

// ClickAction says what a sidebar click did.
type ClickAction string

const (
	ActionToggled ClickAction = "toggled"
	ActionFocused ClickAction = "focused"
)

// ClickResult is the outcome of a sidebar entry click.
type ClickResult struct {
	EntryID  string               `json:"entry_id"`
	Action   ClickAction          `json:"action"`
	Expanded bool                 `json:"expanded,omitempty"`
	RecordID string               `json:"record_id,omitempty"`
	Viewport *mapsurface.Viewport `json:"viewport,omitempty"`
}

// MapState is everything a presenter needs to draw the map.
type MapState struct {
	SessionID string              `json:"session_id"`
	Target    string              `json:"target"`
	Shapes    []mapsurface.Shape  `json:"shapes"`
	Transient *mapsurface.Shape   `json:"transient,omitempty"`
	Viewport  mapsurface.Viewport `json:"viewport"`
	LastCheck *CheckResult        `json:"last_check,omitempty"`
	Locations int                 `json:"locations"`
	LoadedAt  time.Time           `json:"loaded_at"`
	LoadError string              `json:"load_error,omitempty"`
}

type op struct {
	fn   func()
	done chan struct{}
}

// Session is one viewer's map and sidebar. Every mutation runs on the
// session's own loop goroutine, one at a time.
type Session struct {
	id        string
	surface   *mapsurface.Surface
	opts      mapsurface.Options
	publisher ports.EventPublisher

	// Owned by the loop goroutine.
	snap      *Snapshot
	expanded  map[string]bool
	query     string
	lastCheck *CheckResult

	ops       chan op
	quit      chan struct{}
	closeOnce sync.Once

	// lastUsed is the unix-nano time of the last viewer call.
	lastUsed atomic.Int64
}

func newSession(id string, surface *mapsurface.Surface, opts mapsurface.Options, publisher ports.EventPublisher) *Session {
	s := &Session{
		id:        id,
		surface:   surface,
		opts:      opts,
		publisher: publisher,
		snap:      &Snapshot{},
		expanded:  make(map[string]bool),
		ops:       make(chan op),
		quit:      make(chan struct{}),
	}
	s.lastUsed.Store(time.Now().UnixNano())
	go s.loop()
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Target returns the viewport target the session's surface is attached to.
func (s *Session) Target() string { return s.surface.Target() }

// Close stops the session loop. Pending and later calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

func (s *Session) loop() {
	for {
		select {
		case o := <-s.ops:
			o.fn()
			close(o.done)
		case <-s.quit:
			return
		}
	}
}

// LastUsed returns when a viewer last called into the session. Re-renders
// caused by reloads do not count.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// do runs fn on the session loop on behalf of the viewer and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	s.lastUsed.Store(time.Now().UnixNano())
	return s.run(ctx, fn)
}

// run runs fn on the session loop and waits for it to finish.
func (s *Session) run(ctx context.Context, fn func()) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- o:
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-o.done
	return nil
}

// render redraws every shape from snap. Expanded groups that still exist
// stay expanded; the transient marker is kept.
func (s *Session) render(ctx context.Context, snap *Snapshot) error {
	return s.run(ctx, func() {
		if snap.Seq < s.snap.Seq {
			return
		}
		s.snap = snap
		s.surface.Clear()
		for _, rec := range snap.Records {
			// Records in a snapshot are already normalized.
			_, _ = s.surface.AddGeometry(rec.Geometry, mapsurface.MetadataFor(rec))
		}

		expanded := make(map[string]bool, len(s.expanded))
		for org, open := range s.expanded {
			if _, ok := snap.Index.Group(org); ok && open {
				expanded[org] = true
			}
		}
		s.expanded = expanded
	})
}

// ClickEntry handles a click on a sidebar entry. A group entry toggles
// between collapsed and expanded. A leaf entry focuses its location and
// leaves its parent group as it was.
func (s *Session) ClickEntry(ctx context.Context, entryID string) (ClickResult, error) {
	group, member, err := sidebar.ParseEntryID(entryID)
	if err != nil {
		return ClickResult{}, err
	}

	var (
		res    ClickResult
		runErr error
	)
	err = s.do(ctx, func() {
		idx := s.snap.Index
		if member < 0 {
			if group >= len(idx.Groups) || len(idx.Groups[group].Members) < 2 {
				runErr = fmt.Errorf("%w: %q", sidebar.ErrUnknownEntry, entryID)
				return
			}
			org := idx.Groups[group].Organization
			s.expanded[org] = !s.expanded[org]
			res = ClickResult{EntryID: entryID, Action: ActionToggled, Expanded: s.expanded[org]}
			return
		}

		rec, ok := idx.Member(group, member)
		if !ok {
			runErr = fmt.Errorf("%w: %q", sidebar.ErrUnknownEntry, entryID)
			return
		}
		vp := s.focusRecord(rec)
		res = ClickResult{EntryID: entryID, Action: ActionFocused, RecordID: rec.ID, Viewport: &vp}
	})
	if err != nil {
		return ClickResult{}, err
	}
	if runErr != nil {
		return ClickResult{}, runErr
	}

	if res.Action == ActionFocused {
		zoom := res.Viewport.Zoom
		center := res.Viewport.Center
		s.publish(ctx, &domain.MapEvent{Type: domain.EventFocused, Coordinate: &center, Zoom: &zoom})
	}
	return res, nil
}

// focusRecord focuses the drawn shape of rec: points at the fixed focus
// zoom, polygons fitted to their bounds.
func (s *Session) focusRecord(rec domain.LocationRecord) mapsurface.Viewport {
	if h, ok := s.surface.Lookup(rec.ID); ok {
		if vp, err := s.surface.FocusShape(h, s.opts.FocusZoom); err == nil {
			return vp
		}
	}
	if rec.Geometry.Kind == domain.GeometryPolygon {
		return s.surface.FitBounds(rec.Geometry.Bounds())
	}
	return s.surface.FocusOn(*rec.Geometry.Point, s.opts.FocusZoom)
}

// MapClick places the transient marker at coord and focuses it.
func (s *Session) MapClick(ctx context.Context, coord domain.GeoPoint) (mapsurface.Viewport, error) {
	var vp mapsurface.Viewport
	err := s.do(ctx, func() {
		s.surface.PlaceTransientMarker(coord)
		vp = s.surface.FocusOn(coord, s.opts.FocusZoom)
	})
	if err != nil {
		return mapsurface.Viewport{}, err
	}

	zoom := vp.Zoom
	s.publish(ctx, &domain.MapEvent{Type: domain.EventMarkerPlaced, Coordinate: &coord, Zoom: &zoom})
	return vp, nil
}

// MapDoubleClick behaves like MapClick.
func (s *Session) MapDoubleClick(ctx context.Context, coord domain.GeoPoint) (mapsurface.Viewport, error) {
	return s.MapClick(ctx, coord)
}

// CheckCoordinate parses a latitude and longitude typed by the user and tests
// whether the point falls inside a mapped area. If either field does not
// parse, ErrMalformedInput is returned and the map is left untouched.
// Otherwise the transient marker is moved to the probe whatever the result.
func (s *Session) CheckCoordinate(ctx context.Context, latText, lngText string) (CheckResult, error) {
	lat, errLat := parseCoordinate(latText)
	lng, errLng := parseCoordinate(lngText)
	if err := errors.Join(errLat, errLng); err != nil {
		metrics.ContainmentChecks.WithLabelValues("malformed").Inc()
		return CheckResult{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	coord := domain.GeoPoint{Lat: lat, Lon: lng}
	var res CheckResult
	err := s.do(ctx, func() {
		inside := s.surface.ContainsPoint(coord)
		s.surface.PlaceTransientMarker(coord)
		res = CheckResult{Coordinate: coord, Inside: inside, Status: StatusOutside, Message: MessageOutside}
		if inside {
			res.Status = StatusInside
			res.Message = MessageInside
		}
		last := res
		s.lastCheck = &last
	})
	if err != nil {
		return CheckResult{}, err
	}

	metrics.ContainmentChecks.WithLabelValues(string(res.Status)).Inc()
	inside := res.Inside
	s.publish(ctx, &domain.MapEvent{Type: domain.EventContainmentChecked, Coordinate: &coord, Inside: &inside})
	return res, nil
}

func parseCoordinate(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", text)
	}
	return v, nil
}

// Filter stores query and returns the sidebar as it now renders.
func (s *Session) Filter(ctx context.Context, query string) ([]sidebar.Entry, error) {
	var entries []sidebar.Entry
	err := s.do(ctx, func() {
		s.query = strings.Clone(query)
		entries = sidebar.View(s.snap.Index, s.expanded, s.query)
	})
	return entries, err
}

// Sidebar returns the sidebar tree under the current filter.
func (s *Session) Sidebar(ctx context.Context) ([]sidebar.Entry, string, error) {
	var (
		entries []sidebar.Entry
		query   string
	)
	err := s.do(ctx, func() {
		query = s.query
		entries = sidebar.View(s.snap.Index, s.expanded, s.query)
	})
	return entries, query, err
}

// MapState returns the drawn shapes and current viewport.
func (s *Session) MapState(ctx context.Context) (MapState, error) {
	var st MapState
	err := s.do(ctx, func() {
		st = MapState{
			SessionID: s.id,
			Target:    s.surface.Target(),
			Shapes:    s.surface.Shapes(),
			Viewport:  s.surface.Viewport(),
			Locations: len(s.snap.Records),
			LoadedAt:  s.snap.LoadedAt,
		}
		if tm, ok := s.surface.TransientMarker(); ok {
			st.Transient = &tm
		}
		if s.lastCheck != nil {
			last := *s.lastCheck
			st.LastCheck = &last
		}
		if s.snap.Err != nil {
			st.LoadError = s.snap.Err.Error()
		}
	})
	return st, err
}

// ContainsPoint tests coord against the drawn polygons without moving the
// transient marker.
func (s *Session) ContainsPoint(ctx context.Context, coord domain.GeoPoint) (bool, error) {
	var inside bool
	err := s.do(ctx, func() {
		inside = s.surface.ContainsPoint(coord)
	})
	return inside, err
}

func (s *Session) publish(ctx context.Context, ev *domain.MapEvent) {
	ev.SessionID = s.id
	ev.Time = time.Now()
	publishEvent(ctx, s.publisher, ev)
}
