package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/facility-enrich/internal/geo"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometries are
// stored as GeoJSON text next to their bounding box.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; pragmas below are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS locations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id   INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	latitude     REAL,
	longitude    REAL,
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
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (company_id, latitude, longitude)
);

CREATE TABLE IF NOT EXISTS features (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id INTEGER NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
	geometry    TEXT NOT NULL,
	min_lon     REAL NOT NULL,
	min_lat     REAL NOT NULL,
	max_lon     REAL NOT NULL,
	max_lat     REAL NOT NULL,
	osm_id      INTEGER NOT NULL DEFAULT 0,
	osm_type    TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	data_source TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_locations_company_id ON locations(company_id);
CREATE INDEX IF NOT EXISTS idx_features_location_id ON features(location_id);
`

const sqliteDrop = `
DROP TABLE IF EXISTS features;
DROP TABLE IF EXISTS locations;
DROP TABLE IF EXISTS companies;
`

// Migrate creates the schema when absent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Reset drops every table and recreates the schema.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteDrop); err != nil {
		return eris.Wrap(err, "sqlite: drop schema")
	}
	return s.Migrate(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in one transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// Counts returns the row count of each table.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM companies), (SELECT count(*) FROM locations), (SELECT count(*) FROM features)`,
	).Scan(&c.Companies, &c.Locations, &c.Features)
	if err != nil {
		return Counts{}, eris.Wrap(err, "sqlite: counts")
	}
	return c, nil
}

// ListFeatures returns persisted features, newest first.
func (s *SQLiteStore) ListFeatures(ctx context.Context, limit int) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, geometry, min_lon, min_lat, max_lon, max_lat,
			osm_id, osm_type, address, data_source, fetched_at
		FROM features ORDER BY id DESC LIMIT ?`, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list features")
	}
	defer rows.Close() //nolint:errcheck

	var out []Feature
	for rows.Next() {
		var f Feature
		var geojson string
		if err := rows.Scan(&f.ID, &f.LocationID, &geojson, &f.BBox[0], &f.BBox[1], &f.BBox[2], &f.BBox[3],
			&f.OSMID, &f.OSMType, &f.Address, &f.DataSource, &f.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		if f.Geometry, err = geo.DecodeGeoJSON([]byte(geojson)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: feature %d geometry", f.ID)
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list features rows")
}

// ListLocations returns persisted locations with their company name.
func (s *SQLiteStore) ListLocations(ctx context.Context, limit int) ([]Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.company_id, c.name, l.latitude, l.longitude, `+locationMetaColumns+`, l.created_at, l.updated_at
		FROM locations l JOIN companies c ON c.id = l.company_id
		ORDER BY l.id LIMIT ?`, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list locations")
	}
	defer rows.Close() //nolint:errcheck

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(locationDest(&l)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list locations rows")
}

type sqliteTx struct {
	tx *sql.Tx
}

// scanID scans a single id, mapping no rows to found=false.
func scanID(row *sql.Row) (int64, bool, error) {
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *sqliteTx) FindCompany(ctx context.Context, name string) (int64, bool, error) {
	id, ok, err := scanID(t.tx.QueryRowContext(ctx, `SELECT id FROM companies WHERE name = ?`, name))
	return id, ok, eris.Wrap(err, "sqlite: find company")
}

func (t *sqliteTx) InsertCompany(ctx context.Context, name string) (int64, bool, error) {
	id, ok, err := scanID(t.tx.QueryRowContext(ctx,
		`INSERT INTO companies (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING RETURNING id`,
		name, time.Now().UTC()))
	return id, ok, eris.Wrap(err, "sqlite: insert company")
}

func (t *sqliteTx) FindLocation(ctx context.Context, companyID int64, lat, lon float64) (int64, bool, error) {
	id, ok, err := scanID(t.tx.QueryRowContext(ctx,
		`SELECT id FROM locations WHERE company_id = ? AND latitude = ? AND longitude = ?`,
		companyID, lat, lon))
	return id, ok, eris.Wrap(err, "sqlite: find location")
}

func (t *sqliteTx) InsertLocation(ctx context.Context, companyID int64, lat, lon *float64, m LocationMeta) (int64, bool, error) {
	now := time.Now().UTC()
	id, ok, err := scanID(t.tx.QueryRowContext(ctx,
		`INSERT INTO locations (company_id, latitude, longitude, entity_type, country, country_code, postcode,
			plus_code, state, state_code, county, duns_number, source, source_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, latitude, longitude) DO NOTHING RETURNING id`,
		companyID, nullFloat(lat), nullFloat(lon), m.EntityType, m.Country, m.CountryCode, m.Postcode,
		m.PlusCode, m.State, m.StateCode, m.County, m.DUNSNumber, m.Source, m.SourceRef, now, now))
	return id, ok, eris.Wrap(err, "sqlite: insert location")
}

func (t *sqliteTx) FeatureExists(ctx context.Context, f Feature) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM features
			WHERE location_id = ? AND data_source = ? AND osm_type = ? AND osm_id = ?
			AND min_lon = ? AND min_lat = ? AND max_lon = ? AND max_lat = ?)`,
		f.LocationID, f.DataSource, f.OSMType, f.OSMID, f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3],
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: feature exists")
	}
	return exists, nil
}

func (t *sqliteTx) InsertFeature(ctx context.Context, f Feature) (int64, error) {
	data, err := geo.EncodeGeoJSON(f.Geometry)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: encode feature geometry")
	}
	fetched := f.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO features (location_id, geometry, min_lon, min_lat, max_lon, max_lat,
			osm_id, osm_type, address, data_source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.LocationID, string(data), f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3],
		f.OSMID, f.OSMType, f.Address, f.DataSource, fetched)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert feature")
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: feature id")
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
