package http

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
	"github.com/samirrijal/wilusmap/internal/core/sidebar"
	"github.com/samirrijal/wilusmap/internal/core/usecases"
)

// ---- Sessions ----

type sessionResponse struct {
	ID      string `json:"id"`
	Target  string `json:"target"`
	Created bool   `json:"created"`
}

// CreateSessionHandler attaches a map session to a viewport target. A target
// that already has a session gets the existing one back with 200.
func CreateSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Target string `json:"target"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
		}

		// The target outlives the request; form values alias the request buffer.
		target := utils.CopyString(strings.TrimSpace(req.Target))
		sess, created, err := deps.Map.Attach(c.UserContext(), target)
		if err != nil {
			return sessionError(c, err)
		}

		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
			c.Location("/v1/sessions/" + sess.ID())
		}
		return c.Status(status).JSON(sessionResponse{ID: sess.ID(), Target: sess.Target(), Created: created})
	}
}

// DeleteSessionHandler detaches a session and stops its loop.
func DeleteSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Map.Detach(c.Params("id")); err != nil {
			return sessionError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// MapStateHandler returns the session's shapes, transient marker and viewport.
func MapStateHandler(deps *Dependencies) fiber.Handler {
	return withSession(deps, func(c *fiber.Ctx, sess *usecases.Session) error {
		st, err := sess.MapState(c.UserContext())
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(st)
	})
}

type sidebarResponse struct {
	SessionID string          `json:"session_id"`
	Query     string          `json:"query"`
	Entries   []sidebar.Entry `json:"entries"`
}

// SidebarHandler returns the sidebar tree. A q parameter, even an empty one,
// replaces the session's filter first.
func SidebarHandler(deps *Dependencies) fiber.Handler {
	return withSession(deps, func(c *fiber.Ctx, sess *usecases.Session) error {
		ctx := c.UserContext()

		var (
			entries []sidebar.Entry
			query   string
			err     error
		)
		if c.Request().URI().QueryArgs().Has("q") {
			// Kept by the session after the request buffer is recycled.
			query = utils.CopyString(c.Query("q"))
			entries, err = sess.Filter(ctx, query)
		} else {
			entries, query, err = sess.Sidebar(ctx)
		}
		if err != nil {
			return sessionError(c, err)
		}
		if entries == nil {
			entries = []sidebar.Entry{}
		}
		return c.JSON(sidebarResponse{SessionID: sess.ID(), Query: query, Entries: entries})
	})
}

// ClickEntryHandler toggles a group or focuses the map on a leaf.
func ClickEntryHandler(deps *Dependencies) fiber.Handler {
	return withSession(deps, func(c *fiber.Ctx, sess *usecases.Session) error {
		res, err := sess.ClickEntry(c.UserContext(), c.Params("entry"))
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(res)
	})
}

type pointRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (r pointRequest) point() (domain.GeoPoint, string) {
	if r.Lat == nil || r.Lng == nil {
		return domain.GeoPoint{}, "lat and lng are required"
	}
	if *r.Lat < -90 || *r.Lat > 90 {
		return domain.GeoPoint{}, "lat must be between -90 and 90"
	}
	if *r.Lng < -180 || *r.Lng > 180 {
		return domain.GeoPoint{}, "lng must be between -180 and 180"
	}
	return domain.GeoPoint{Lat: *r.Lat, Lon: *r.Lng}, ""
}

// MapClickHandler places the transient marker and centers on it. double
// selects the double-click gesture, which the map treats the same way.
func MapClickHandler(deps *Dependencies, double bool) fiber.Handler {
	return withSession(deps, func(c *fiber.Ctx, sess *usecases.Session) error {
		var req pointRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		coord, msg := req.point()
		if msg != "" {
			return errBadRequest(c, msg)
		}

		click := sess.MapClick
		if double {
			click = sess.MapDoubleClick
		}
		vp, err := click(c.UserContext(), coord)
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(fiber.Map{"viewport": vp})
	})
}

// coordText accepts a JSON string or a bare number and keeps its text, so
// that validation happens in one place.
type coordText string

func (t *coordText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = coordText(s)
		return nil
	}
	*t = coordText(data)
	return nil
}

func coordinateFields(c *fiber.Ctx) (lat, lng string, err error) {
	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		var body struct {
			Lat coordText `json:"lat"`
			Lng coordText `json:"lng"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return "", "", err
		}
		return string(body.Lat), string(body.Lng), nil
	}
	return c.FormValue("lat"), c.FormValue("lng"), nil
}

// ContainsHandler runs the coordinate check from the lat/lng form fields.
// Unparseable input is answered with 422 and leaves the map untouched.
func ContainsHandler(deps *Dependencies) fiber.Handler {
	return withSession(deps, func(c *fiber.Ctx, sess *usecases.Session) error {
		lat, lng, err := coordinateFields(c)
		if err != nil {
			return errBadRequest(c, "invalid request body")
		}

		res, err := sess.CheckCoordinate(c.UserContext(), lat, lng)
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(res)
	})
}

// ---- Locations ----

type memberSummary struct {
	EntryID  string `json:"entry_id"`
	RecordID string `json:"record_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type groupSummary struct {
	EntryID      string          `json:"entry_id,omitempty"`
	Organization string          `json:"organization"`
	Size         int             `json:"size"`
	Collapsible  bool            `json:"collapsible"`
	Members      []memberSummary `json:"members"`
}

func summarizeGroups(idx sidebar.GroupIndex) []groupSummary {
	out := make([]groupSummary, len(idx.Groups))
	for i, g := range idx.Groups {
		s := groupSummary{
			Organization: g.Organization,
			Size:         len(g.Members),
			Collapsible:  len(g.Members) >= 2,
			Members:      make([]memberSummary, len(g.Members)),
		}
		if s.Collapsible {
			s.EntryID = sidebar.GroupID(i)
		}
		for j, m := range g.Members {
			s.Members[j] = memberSummary{
				EntryID:  sidebar.MemberID(i, j),
				RecordID: m.ID,
				Name:     m.Name,
				Kind:     string(m.Geometry.Kind),
			}
		}
		out[i] = s
	}
	return out
}

// ListGroupsHandler lists organizations in first-seen order with their members.
func ListGroupsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 100)
		if offset < 0 || limit <= 0 || limit > 500 {
			return errBadRequest(c, "offset must be >= 0 and limit between 1 and 500")
		}

		groups := summarizeGroups(deps.Map.Snapshot().Index)
		total := len(groups)
		if offset > total {
			offset = total
		}
		end := offset + limit
		if end > total {
			end = total
		}

		p := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, p)
		return c.JSON(PaginatedResponse{Data: groups[offset:end], Pagination: p})
	}
}

// GeoJSONHandler exports every valid location as a FeatureCollection.
func GeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fc := geometry.FeatureCollection(deps.Map.Snapshot().Records, deps.Export)
		data, err := fc.MarshalJSON()
		if err != nil {
			LoggerFromCtx(c.UserContext()).Error("encode geojson", "error", err)
			return errInternal(c, "failed to encode locations")
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(data)
	}
}

type snapshotResponse struct {
	Fetched  int       `json:"fetched"`
	Valid    int       `json:"valid"`
	Invalid  int       `json:"invalid"`
	Groups   int       `json:"groups"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ReloadHandler refetches locations, bypassing the cache, and re-renders
// every session.
func ReloadHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap := deps.Map.Reload(c.UserContext())
		if snap.Err != nil {
			return errUnavailable(c, "location store unavailable")
		}
		return c.JSON(snapshotResponse{
			Fetched:  snap.Fetched,
			Valid:    len(snap.Records),
			Invalid:  snap.Invalid,
			Groups:   len(snap.Index.Groups),
			LoadedAt: snap.LoadedAt,
		})
	}
}

// ---- helpers ----

func withSession(deps *Dependencies, h func(*fiber.Ctx, *usecases.Session) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := deps.Map.Session(c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return h(c, sess)
	}
}

// sessionError maps use-case errors to API errors.
func sessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, usecases.ErrSessionNotFound), errors.Is(err, usecases.ErrSessionClosed):
		return errNotFound(c, "session not found")
	case errors.Is(err, usecases.ErrSessionLimit):
		return errUnavailable(c, "too many map sessions, try again later")
	case errors.Is(err, sidebar.ErrUnknownEntry):
		return errNotFound(c, "sidebar entry not found")
	case errors.Is(err, usecases.ErrMalformedInput):
		return errUnprocessable(c, usecases.MessageMalformed, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errUnavailable(c, "request timed out")
	}
	LoggerFromCtx(c.UserContext()).Error("session request failed", "path", c.Path(), "error", err)
	return errInternal(c, "internal error")
}
