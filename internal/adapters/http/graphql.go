package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
	"github.com/samirrijal/wilusmap/internal/core/usecases"
)

// buildSchema creates the GraphQL schema wired to the map service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lat": &graphql.Field{Type: graphql.Float},
			"min_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
		},
	})

	popupType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Popup",
		Fields: graphql.Fields{
			"title": &graphql.Field{Type: graphql.String},
			"fields": &graphql.Field{Type: graphql.NewList(graphql.NewObject(graphql.ObjectConfig{
				Name: "PopupField",
				Fields: graphql.Fields{
					"label": &graphql.Field{Type: graphql.String},
					"value": &graphql.Field{Type: graphql.String},
				},
			}))},
		},
	})

	locationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Location",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"organization": &graphql.Field{Type: graphql.String},
			"name":         &graphql.Field{Type: graphql.String},
			"kind": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(p.Source.(domain.LocationRecord).Geometry.Kind), nil
				},
			},
			"point": &graphql.Field{
				Type: geoPointType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(domain.LocationRecord).Geometry.Point, nil
				},
			},
			"ring": &graphql.Field{
				Type: graphql.NewList(geoPointType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(domain.LocationRecord).Geometry.Ring, nil
				},
			},
			"popup": &graphql.Field{
				Type: popupType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					rec := p.Source.(domain.LocationRecord)
					return mapsurface.PopupFor(mapsurface.MetadataFor(rec)), nil
				},
			},
		},
	})

	groupType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Group",
		Fields: graphql.Fields{
			"entry_id":     &graphql.Field{Type: graphql.String},
			"organization": &graphql.Field{Type: graphql.String},
			"size":         &graphql.Field{Type: graphql.Int},
			"collapsible":  &graphql.Field{Type: graphql.Boolean},
			"members": &graphql.Field{Type: graphql.NewList(graphql.NewObject(graphql.ObjectConfig{
				Name: "GroupMember",
				Fields: graphql.Fields{
					"entry_id":  &graphql.Field{Type: graphql.String},
					"record_id": &graphql.Field{Type: graphql.String},
					"name":      &graphql.Field{Type: graphql.String},
					"kind":      &graphql.Field{Type: graphql.String},
				},
			}))},
		},
	})

	var entryType *graphql.Object
	entryType = graphql.NewObject(graphql.ObjectConfig{
		Name: "SidebarEntry",
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return graphql.Fields{
				"id":           &graphql.Field{Type: graphql.String},
				"kind":         &graphql.Field{Type: graphql.String},
				"label":        &graphql.Field{Type: graphql.String},
				"organization": &graphql.Field{Type: graphql.String},
				"record_id":    &graphql.Field{Type: graphql.String},
				"collapsible":  &graphql.Field{Type: graphql.Boolean},
				"expanded":     &graphql.Field{Type: graphql.Boolean},
				"visible":      &graphql.Field{Type: graphql.Boolean},
				"children":     &graphql.Field{Type: graphql.NewList(entryType)},
			}
		}),
	})

	viewportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Viewport",
		Fields: graphql.Fields{
			"center":  &graphql.Field{Type: geoPointType},
			"zoom":    &graphql.Field{Type: graphql.Float},
			"bounds":  &graphql.Field{Type: boundsType},
			"padding": &graphql.Field{Type: graphql.Int},
		},
	})

	shapeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Shape",
		Fields: graphql.Fields{
			"handle":    &graphql.Field{Type: graphql.Int},
			"kind":      &graphql.Field{Type: graphql.String},
			"record_id": &graphql.Field{Type: graphql.String},
			"point":     &graphql.Field{Type: geoPointType},
			"ring":      &graphql.Field{Type: graphql.NewList(geoPointType)},
			"bounds":    &graphql.Field{Type: boundsType},
			"popup":     &graphql.Field{Type: popupType},
		},
	})

	checkType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CheckResult",
		Fields: graphql.Fields{
			"coordinate": &graphql.Field{Type: geoPointType},
			"inside":     &graphql.Field{Type: graphql.Boolean},
			"status":     &graphql.Field{Type: graphql.String},
			"message":    &graphql.Field{Type: graphql.String},
		},
	})

	mapStateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "MapState",
		Fields: graphql.Fields{
			"session_id": &graphql.Field{Type: graphql.String},
			"target":     &graphql.Field{Type: graphql.String},
			"shapes":     &graphql.Field{Type: graphql.NewList(shapeType)},
			"transient":  &graphql.Field{Type: shapeType},
			"viewport":   &graphql.Field{Type: viewportType},
			"last_check": &graphql.Field{Type: checkType},
			"locations":  &graphql.Field{Type: graphql.Int},
			"loaded_at":  &graphql.Field{Type: graphql.DateTime},
			"load_error": &graphql.Field{Type: graphql.String},
		},
	})

	clickType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ClickResult",
		Fields: graphql.Fields{
			"entry_id":  &graphql.Field{Type: graphql.String},
			"action":    &graphql.Field{Type: graphql.String},
			"expanded":  &graphql.Field{Type: graphql.Boolean},
			"record_id": &graphql.Field{Type: graphql.String},
			"viewport":  &graphql.Field{Type: viewportType},
		},
	})

	sessionArg := &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"groups": &graphql.Field{
				Type:        graphql.NewList(groupType),
				Description: "Organizations in first-seen order with their locations",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return summarizeGroups(deps.Map.Snapshot().Index), nil
				},
			},
			"locations": &graphql.Field{
				Type:        graphql.NewList(locationType),
				Description: "Every valid location in fetch order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Map.Snapshot().Records, nil
				},
			},
			"sidebar": &graphql.Field{
				Type:        graphql.NewList(entryType),
				Description: "A session's sidebar tree; q replaces its filter",
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"q":       &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := deps.Map.Session(p.Args["session"].(string))
					if err != nil {
						return nil, err
					}
					if q, ok := p.Args["q"].(string); ok {
						return sess.Filter(p.Context, q)
					}
					entries, _, err := sess.Sidebar(p.Context)
					return entries, err
				},
			},
			"mapState": &graphql.Field{
				Type:        mapStateType,
				Description: "Shapes, transient marker and viewport of a session",
				Args:        graphql.FieldConfigArgument{"session": sessionArg},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := deps.Map.Session(p.Args["session"].(string))
					if err != nil {
						return nil, err
					}
					return sess.MapState(p.Context)
				},
			},
			"containsPoint": &graphql.Field{
				Type:        graphql.Boolean,
				Description: "Whether a coordinate lies in any drawn polygon; the map is not changed",
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"lat":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lng":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := deps.Map.Session(p.Args["session"].(string))
					if err != nil {
						return nil, err
					}
					coord := domain.GeoPoint{Lat: p.Args["lat"].(float64), Lon: p.Args["lng"].(float64)}
					return sess.ContainsPoint(p.Context, coord)
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"checkCoordinate": &graphql.Field{
				Type:        checkType,
				Description: "Check typed coordinates and mark them on the map",
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"lat":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lng":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := deps.Map.Session(p.Args["session"].(string))
					if err != nil {
						return nil, err
					}
					res, err := sess.CheckCoordinate(p.Context, p.Args["lat"].(string), p.Args["lng"].(string))
					if errors.Is(err, usecases.ErrMalformedInput) {
						return nil, errors.New(usecases.MessageMalformed)
					}
					return res, err
				},
			},
			"clickEntry": &graphql.Field{
				Type:        clickType,
				Description: "Toggle a sidebar group or focus the map on a location",
				Args: graphql.FieldConfigArgument{
					"session": sessionArg,
					"entry":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := deps.Map.Session(p.Args["session"].(string))
					if err != nil {
						return nil, err
					}
					return sess.ClickEntry(p.Context, p.Args["entry"].(string))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// A schema that does not build is a programming error.
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
