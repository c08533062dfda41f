// Package store persists companies, their locations and the boundary
// features attached to each location.
package store

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"
)

// LocationMeta is the descriptive metadata stored with a location. Empty
// strings mean unknown.
type LocationMeta struct {
	EntityType  string `json:"entity_type"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Postcode    string `json:"postcode"`
	PlusCode    string `json:"plus_code"`
	State       string `json:"state"`
	StateCode   string `json:"state_code"`
	County      string `json:"county"`
	DUNSNumber  string `json:"duns_number"`
	Source      string `json:"source"`
	SourceRef   string `json:"source_ref"`
}

// Location is a persisted facility site.
type Location struct {
	ID          int64    `json:"id"`
	CompanyID   int64    `json:"company_id"`
	CompanyName string   `json:"company"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	LocationMeta
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feature is a persisted geometry attached to a location.
type Feature struct {
	ID         int64
	LocationID int64
	Geometry   geom.T
	BBox       [4]float64
	OSMID      int64
	OSMType    string
	Address    string
	DataSource string
	FetchedAt  time.Time
}

// Counts is the number of rows per entity.
type Counts struct {
	Companies int `json:"companies"`
	Locations int `json:"locations"`
	Features  int `json:"features"`
}

// Tx is the unit of work for reconciling one record. Insert methods report
// inserted=false when a unique constraint already holds the row.
type Tx interface {
	FindCompany(ctx context.Context, name string) (id int64, found bool, err error)
	InsertCompany(ctx context.Context, name string) (id int64, inserted bool, err error)
	FindLocation(ctx context.Context, companyID int64, lat, lon float64) (id int64, found bool, err error)
	InsertLocation(ctx context.Context, companyID int64, lat, lon *float64, meta LocationMeta) (id int64, inserted bool, err error)
	FeatureExists(ctx context.Context, f Feature) (bool, error)
	InsertFeature(ctx context.Context, f Feature) (int64, error)
}

// Store defines the persistence interface for reconciliation and the
// read-only API.
type Store interface {
	// WithTx runs fn in a transaction that commits when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Counts(ctx context.Context) (Counts, error)
	ListFeatures(ctx context.Context, limit int) ([]Feature, error)
	ListLocations(ctx context.Context, limit int) ([]Location, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

// defaultListLimit caps list queries when the caller passes no limit.
const defaultListLimit = 1000

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
