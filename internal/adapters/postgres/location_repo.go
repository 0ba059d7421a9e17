package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
)

// LocationColumns names the columns of the locations table.
type LocationColumns struct {
	ID           string
	Organization string
	Name         string
	// Geometry is a PostGIS geometry column, read with ST_AsGeoJSON.
	Geometry string
	// Legacy, if set, is a text column holding "lat,lng" for rows whose
	// geometry column is null.
	Legacy string
	// Attributes maps extra text columns to their popup labels.
	Attributes map[string]string
}

// LocationRepo implements ports.LocationRepository and ports.LocationWriter with pgx.
type LocationRepo struct {
	db       *DB
	table    string
	cols     LocationColumns
	attrCols []string
	query    string
}

// NewLocationRepo creates a LocationRepo reading table.
func NewLocationRepo(db *DB, table string, cols LocationColumns) *LocationRepo {
	attrCols := make([]string, 0, len(cols.Attributes))
	for col := range cols.Attributes {
		attrCols = append(attrCols, col)
	}
	sort.Strings(attrCols)

	return &LocationRepo{
		db:       db,
		table:    table,
		cols:     cols,
		attrCols: attrCols,
		query:    selectQuery(table, cols, attrCols),
	}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func selectQuery(table string, cols LocationColumns, attrCols []string) string {
	geom := fmt.Sprintf("ST_AsGeoJSON(%s)", ident(cols.Geometry))
	if cols.Legacy != "" {
		geom = fmt.Sprintf("COALESCE(%s, %s::text)", geom, ident(cols.Legacy))
	}

	fields := []string{
		fmt.Sprintf("COALESCE(%s::text, '')", ident(cols.ID)),
		fmt.Sprintf("COALESCE(%s::text, '')", ident(cols.Organization)),
		fmt.Sprintf("COALESCE(%s::text, '')", ident(cols.Name)),
		geom,
	}
	for _, col := range attrCols {
		fields = append(fields, fmt.Sprintf("COALESCE(%s::text, '')", ident(col)))
	}

	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(fields, ", "), ident(table), ident(cols.ID))
}

// FetchLocations returns every row in ID order. Rows are not validated; a
// geometry that cannot be decoded at all is passed on as absent.
func (r *LocationRepo) FetchLocations(ctx context.Context) ([]domain.RawLocationRecord, error) {
	rows, err := r.db.Pool.Query(ctx, r.query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []domain.RawLocationRecord
	for rows.Next() {
		var (
			rec  domain.RawLocationRecord
			geom *string
		)
		attrs := make([]string, len(r.attrCols))
		dest := []any{&rec.ID, &rec.Organization, &rec.Name, &geom}
		for i := range attrs {
			dest = append(dest, &attrs[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.table, err)
		}

		if geom != nil {
			g, err := geometry.DecodeRaw([]byte(*geom))
			if err != nil {
				slog.Debug("undecodable geometry", "table", r.table, "id", rec.ID, "error", err)
			}
			rec.Geometry = g
		}
		rec.Attributes = r.attributes(attrs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", r.table, err)
	}
	return out, nil
}

func (r *LocationRepo) attributes(values []string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for i, col := range r.attrCols {
		if values[i] != "" {
			out[r.cols.Attributes[col]] = values[i]
		}
	}
	return out
}

// UpsertBatch inserts or replaces records by ID using pgx.Batch. Attribute
// values are matched to columns by their popup label.
func (r *LocationRepo) UpsertBatch(ctx context.Context, records []domain.RawLocationRecord) error {
	if len(records) == 0 {
		return nil
	}

	cols := []string{ident(r.cols.ID), ident(r.cols.Organization), ident(r.cols.Name), ident(r.cols.Geometry)}
	for _, col := range r.attrCols {
		cols = append(cols, ident(col))
	}
	placeholders := []string{"$1", "$2", "$3", "ST_SetSRID(ST_GeomFromGeoJSON($4), 4326)"}
	updates := make([]string, 0, len(cols)-1)
	for i := range r.attrCols {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+5))
	}
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		ident(r.table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		cols[0], strings.Join(updates, ", "))

	batch := &pgx.Batch{}
	for _, rec := range records {
		if rec.Geometry == nil || rec.Geometry.Legacy != "" {
			return fmt.Errorf("record %q: only GeoJSON geometries can be stored", rec.ID)
		}
		geom, err := rec.Geometry.MarshalJSON()
		if err != nil {
			return fmt.Errorf("record %q: encode geometry: %w", rec.ID, err)
		}
		args := []any{rec.ID, rec.Organization, rec.Name, string(geom)}
		for _, col := range r.attrCols {
			args = append(args, rec.Attributes[r.cols.Attributes[col]])
		}
		batch.Queue(stmt, args...)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}
