// Package api serves persisted facilities as read-only GeoJSON.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/store"
)

// Reader is the read side of the store.
type Reader interface {
	Counts(ctx context.Context) (store.Counts, error)
	ListFeatures(ctx context.Context, limit int) ([]store.Feature, error)
	ListLocations(ctx context.Context, limit int) ([]store.Location, error)
}

// NewRouter builds the HTTP routes.
func NewRouter(st Reader) http.Handler {
	h := &handlers{store: st}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/geodata", h.geodata)
		r.Get("/locations", h.locations)
		r.Get("/stats", h.stats)
	})
	return r
}

type handlers struct {
	store Reader
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Counts(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) geodata(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	feats, err := h.store.ListFeatures(r.Context(), limit)
	if err != nil {
		serverError(w, r, err)
		return
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(feats))}
	for _, f := range feats {
		var osmID any
		if f.OSMID != 0 {
			osmID = f.OSMID
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.FormatInt(f.ID, 10),
			Geometry: f.Geometry,
			BBox:     geom.NewBounds(geom.XY).Set(f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]),
			Properties: map[string]any{
				"id":          f.ID,
				"location_id": f.LocationID,
				"osm_id":      osmID,
				"osm_type":    nilIfEmpty(f.OSMType),
				"address":     nilIfEmpty(f.Address),
				"data_source": f.DataSource,
				"fetched_at":  f.FetchedAt,
			},
		})
	}
	writeJSON(w, http.StatusOK, fc)
}

func (h *handlers) locations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	locs, err := h.store.ListLocations(r.Context(), limit)
	if err != nil {
		serverError(w, r, err)
		return
	}

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(locs))}
	for _, l := range locs {
		if l.Latitude == nil || l.Longitude == nil {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       strconv.FormatInt(l.ID, 10),
			Geometry: geom.NewPointFlat(geom.XY, []float64{*l.Longitude, *l.Latitude}).SetSRID(geo.SRID),
			Properties: map[string]any{
				"id":          l.ID,
				"company":     l.CompanyName,
				"entity_type": nilIfEmpty(l.EntityType),
				"country":     nilIfEmpty(l.Country),
				"state":       nilIfEmpty(l.State),
				"state_code":  nilIfEmpty(l.StateCode),
				"county":      nilIfEmpty(l.County),
				"postcode":    nilIfEmpty(l.Postcode),
				"duns_number": nilIfEmpty(l.DUNSNumber),
				"source":      nilIfEmpty(l.Source),
				"source_ref":  nilIfEmpty(l.SourceRef),
			},
		})
	}
	writeJSON(w, http.StatusOK, fc)
}

// parseLimit reads ?limit=, writing a 400 when it is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
