package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/db"
	"github.com/sells-group/facility-enrich/internal/geo"
)

// PostgresStore implements Store on PostGIS through a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to connString and returns a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS companies (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS locations (
	id           BIGSERIAL PRIMARY KEY,
	company_id   BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	entity_type  TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	country_code TEXT NOT NULL DEFAULT '',
	postcode     TEXT NOT NULL DEFAULT '',
	plus_code    TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	state_code   TEXT NOT NULL DEFAULT '',
	county       TEXT NOT NULL DEFAULT '',
	duns_number  TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	source_ref   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, latitude, longitude)
);

CREATE TABLE IF NOT EXISTS features (
	id          BIGSERIAL PRIMARY KEY,
	location_id BIGINT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
	geometry    geometry(Geometry, 4326) NOT NULL,
	bbox        geometry(Geometry, 4326) NOT NULL,
	osm_id      BIGINT NOT NULL DEFAULT 0,
	osm_type    TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	data_source TEXT NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_locations_company_id ON locations(company_id);
CREATE INDEX IF NOT EXISTS idx_features_location_id ON features(location_id);
CREATE INDEX IF NOT EXISTS idx_features_geometry ON features USING GIST (geometry);
`

const postgresDrop = `DROP TABLE IF EXISTS features, locations, companies CASCADE`

// Migrate creates the schema when absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Reset drops every table and recreates the schema.
func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresDrop); err != nil {
		return eris.Wrap(err, "postgres: drop schema")
	}
	return s.Migrate(ctx)
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn in one transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Counts returns the row count of each table.
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM companies), (SELECT count(*) FROM locations), (SELECT count(*) FROM features)`,
	).Scan(&c.Companies, &c.Locations, &c.Features)
	if err != nil {
		return Counts{}, eris.Wrap(err, "postgres: counts")
	}
	return c, nil
}

// ListFeatures returns persisted features, newest first.
func (s *PostgresStore) ListFeatures(ctx context.Context, limit int) ([]Feature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_id, ST_AsGeoJSON(geometry), ST_XMin(bbox), ST_YMin(bbox), ST_XMax(bbox), ST_YMax(bbox),
			osm_id, osm_type, address, data_source, fetched_at
		FROM features ORDER BY id DESC LIMIT $1`, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list features")
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var f Feature
		var geojson string
		if err := rows.Scan(&f.ID, &f.LocationID, &geojson, &f.BBox[0], &f.BBox[1], &f.BBox[2], &f.BBox[3],
			&f.OSMID, &f.OSMType, &f.Address, &f.DataSource, &f.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature")
		}
		if f.Geometry, err = geo.DecodeGeoJSON([]byte(geojson)); err != nil {
			return nil, eris.Wrapf(err, "postgres: feature %d geometry", f.ID)
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list features rows")
}

// ListLocations returns persisted locations with their company name.
func (s *PostgresStore) ListLocations(ctx context.Context, limit int) ([]Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.company_id, c.name, l.latitude, l.longitude, `+locationMetaColumns+`, l.created_at, l.updated_at
		FROM locations l JOIN companies c ON c.id = l.company_id
		ORDER BY l.id LIMIT $1`, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list locations")
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(locationDest(&l)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list locations rows")
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindCompany(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM companies WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: find company")
	}
	return id, true, nil
}

func (t *pgTx) InsertCompany(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO companies (name, created_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING RETURNING id`,
		name, time.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: insert company")
	}
	return id, true, nil
}

func (t *pgTx) FindLocation(ctx context.Context, companyID int64, lat, lon float64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM locations WHERE company_id = $1 AND latitude = $2 AND longitude = $3`,
		companyID, lat, lon,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: find location")
	}
	return id, true, nil
}

func (t *pgTx) InsertLocation(ctx context.Context, companyID int64, lat, lon *float64, m LocationMeta) (int64, bool, error) {
	now := time.Now().UTC()
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO locations (company_id, latitude, longitude, entity_type, country, country_code, postcode,
			plus_code, state, state_code, county, duns_number, source, source_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (company_id, latitude, longitude) DO NOTHING RETURNING id`,
		companyID, lat, lon, m.EntityType, m.Country, m.CountryCode, m.Postcode,
		m.PlusCode, m.State, m.StateCode, m.County, m.DUNSNumber, m.Source, m.SourceRef, now, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: insert location")
	}
	return id, true, nil
}

func (t *pgTx) FeatureExists(ctx context.Context, f Feature) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM features
			WHERE location_id = $1 AND data_source = $2 AND osm_type = $3 AND osm_id = $4
			AND ST_XMin(bbox) = $5 AND ST_YMin(bbox) = $6 AND ST_XMax(bbox) = $7 AND ST_YMax(bbox) = $8)`,
		f.LocationID, f.DataSource, f.OSMType, f.OSMID, f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3],
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: feature exists")
	}
	return exists, nil
}

func (t *pgTx) InsertFeature(ctx context.Context, f Feature) (int64, error) {
	wkb, err := geo.EncodeEWKB(f.Geometry)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: encode feature geometry")
	}
	fetched := f.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}

	var id int64
	err = t.tx.QueryRow(ctx,
		`INSERT INTO features (location_id, geometry, bbox, osm_id, osm_type, address, data_source, fetched_at)
		VALUES ($1, ST_GeomFromEWKB($2), ST_MakeEnvelope($3, $4, $5, $6, 4326), $7, $8, $9, $10, $11)
		RETURNING id`,
		f.LocationID, wkb, f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3],
		f.OSMID, f.OSMType, f.Address, f.DataSource, fetched,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert feature")
	}
	return id, nil
}

const locationMetaColumns = `l.entity_type, l.country, l.country_code, l.postcode, l.plus_code, l.state,
	l.state_code, l.county, l.duns_number, l.source, l.source_ref`

func locationDest(l *Location) []any {
	return []any{
		&l.ID, &l.CompanyID, &l.CompanyName, &l.Latitude, &l.Longitude,
		&l.EntityType, &l.Country, &l.CountryCode, &l.Postcode, &l.PlusCode, &l.State,
		&l.StateCode, &l.County, &l.DUNSNumber, &l.Source, &l.SourceRef,
		&l.CreatedAt, &l.UpdatedAt,
	}
}
