package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

// Stage names the pipeline step an event came from.
type Stage string

// Pipeline stages.
const (
	StageResolve   Stage = "resolve"
	StageBoundary  Stage = "boundary"
	StageAddress   Stage = "address"
	StageEnriched  Stage = "enriched"
	StageReconcile Stage = "reconcile"
	StagePersisted Stage = "persisted"
	StageRegion    Stage = "region"
)

// Event reports the outcome of one stage for one row. Events with a nil Err
// mark progress; the rest are failures or degradations classified by Kind.
type Event struct {
	Row     int
	Company string
	Stage   Stage
	Kind    resilience.Kind
	Err     error

	Boundary bool
	Address  bool
	Attached int
}

// Report aggregates a run.
type Report struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time

	Rows             int
	Enriched         int
	WithBoundary     int
	WithAddress      int
	Persisted        int
	FeaturesAttached int

	// Events holds every failure or degradation, ordered by row.
	Events   []Event
	Features []geo.EnrichedFeature
}

func (r *Report) add(ev Event) {
	if ev.Err != nil {
		r.Events = append(r.Events, ev)
		return
	}
	switch ev.Stage {
	case StageEnriched:
		r.Enriched++
		if ev.Boundary {
			r.WithBoundary++
		}
		if ev.Address {
			r.WithAddress++
		}
	case StagePersisted:
		r.Persisted++
		r.FeaturesAttached += ev.Attached
	}
}

func (r *Report) finish() {
	r.FinishedAt = time.Now().UTC()
	sort.SliceStable(r.Events, func(i, j int) bool { return r.Events[i].Row < r.Events[j].Row })
}

// Skipped is the number of rows that produced no feature.
func (r *Report) Skipped() int {
	return r.Rows - r.Enriched
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// KindCounts tallies events by failure kind.
func (r *Report) KindCounts() map[string]int {
	out := make(map[string]int)
	for _, ev := range r.Events {
		out[ev.Kind.String()]++
	}
	return out
}

// Log writes the run summary at Info.
func (r *Report) Log() {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("source", r.Source),
		zap.Int("rows", r.Rows),
		zap.Int("enriched", r.Enriched),
		zap.Int("with_boundary", r.WithBoundary),
		zap.Int("with_address", r.WithAddress),
		zap.Int("persisted", r.Persisted),
		zap.Int("skipped", r.Skipped()),
		zap.Duration("duration", r.Duration()),
	}
	for kind, n := range r.KindCounts() {
		fields = append(fields, zap.Int("events_"+kind, n))
	}
	zap.L().Info("pipeline: run finished", fields...)
}

// FormatReport renders a human-readable run summary.
func FormatReport(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Enrichment Run: %s\n", r.Source)
	fmt.Fprintf(&b, "Run ID: %s\n", r.RunID)
	fmt.Fprintf(&b, "Duration: %s\n\n", r.Duration().Round(time.Millisecond))

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Rows: %d\n", r.Rows)
	fmt.Fprintf(&b, "- Enriched: %d (%d with outline, %d with address)\n", r.Enriched, r.WithBoundary, r.WithAddress)
	fmt.Fprintf(&b, "- Persisted: %d (%d features attached)\n", r.Persisted, r.FeaturesAttached)
	fmt.Fprintf(&b, "- Skipped: %d\n\n", r.Skipped())

	counts := r.KindCounts()
	if len(counts) > 0 {
		b.WriteString("## Events by Kind\n")
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&b, "- %s: %d\n", k, counts[k])
		}
		b.WriteString("\n")
	}

	if len(r.Events) > 0 {
		b.WriteString("## Events\n")
		for _, ev := range r.Events {
			company := ev.Company
			if company == "" {
				company = "-"
			}
			fmt.Fprintf(&b, "- row %d [%s] %s %s: %v\n", ev.Row, company, ev.Stage, ev.Kind, ev.Err)
		}
	}
	return b.String()
}
