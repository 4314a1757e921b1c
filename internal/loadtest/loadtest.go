// Package loadtest drives concurrent instance creation across several
// schemas and checks that no instance lands under the wrong schema.
//
// Every worker activates its own schema's descriptors in its own context,
// so this doubles as an end-to-end check that active descriptor sets never
// leak between concurrent requests.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/elasticmodels/elastic/internal/projection"
	"github.com/elasticmodels/elastic/internal/registry"
	"github.com/elasticmodels/elastic/internal/schema"
	"github.com/elasticmodels/elastic/internal/store"
)

// Options configures a run.
type Options struct {
	Schemas   int // distinct schemas to spread writes over
	Workers   int // concurrent writers
	PerWorker int // creates per writer
}

// DefaultOptions returns a modest run suitable for a laptop.
func DefaultOptions() Options {
	return Options{Schemas: 4, Workers: 16, PerWorker: 50}
}

// Fixture is a set of load test schemas.
type Fixture struct {
	Store   *store.Store
	Schemas []*schema.Schema
}

// LatencyStats captures create latencies from a run.
type LatencyStats struct {
	Min          time.Duration `json:"min_ns"`
	Max          time.Duration `json:"max_ns"`
	Mean         time.Duration `json:"mean_ns"`
	P50          time.Duration `json:"p50_ns"`
	P95          time.Duration `json:"p95_ns"`
	P99          time.Duration `json:"p99_ns"`
	TotalCreates int           `json:"total_creates"`
	Errors       int           `json:"errors"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

var kinds = []string{"alpha", "beta", "gamma"}

// Setup creates n schemas named loadtest_<i>. Each has a "tag" text field
// that every instance fills with its own schema's name, which Verify
// later checks.
func Setup(ctx context.Context, reg *registry.Registry, st *store.Store, n int) (*Fixture, error) {
	if n <= 0 {
		return nil, fmt.Errorf("schema count must be positive, got %d", n)
	}

	fx := &Fixture{Store: st}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("loadtest_%d", i)
		sc, err := reg.CreateSchema(ctx, name, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create schema %s: %w", name, err)
		}
		fields := []*schema.FieldSpec{
			{Name: "seq", Type: schema.TypeNumber},
			{Name: "tag", Type: schema.TypeText},
			{Name: "kind", Type: schema.TypeEnum, Choices: kinds},
			{Name: "due", Type: schema.TypeDate, Blank: true},
		}
		// A different field count per schema makes leaks show up as
		// validation failures as well.
		for j := 0; j < i; j++ {
			fields = append(fields, &schema.FieldSpec{Name: fmt.Sprintf("extra_%d", j), Type: schema.TypeNumber, Blank: true})
		}
		for _, f := range fields {
			if _, err := reg.AddFieldSpec(ctx, sc.ID, f); err != nil {
				return nil, fmt.Errorf("failed to add field %s.%s: %w", name, f.Name, err)
			}
		}
		sc, err = reg.GetSchemaDetail(ctx, sc.ID)
		if err != nil {
			return nil, err
		}
		fx.Schemas = append(fx.Schemas, sc)
	}
	return fx, nil
}

// Run starts opts.Workers writers. Worker w writes to schema w mod n.
func (fx *Fixture) Run(ctx context.Context, opts Options) (*LatencyStats, error) {
	if opts.Workers <= 0 || opts.PerWorker <= 0 {
		return nil, fmt.Errorf("workers and creates per worker must be positive")
	}

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, opts.Workers)
	errorsChan := make(chan error, opts.Workers)

	start := time.Now()
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			sc := fx.Schemas[worker%len(fx.Schemas)]
			rng := rand.New(rand.NewSource(int64(worker)))
			durations := make([]time.Duration, 0, opts.PerWorker)

			err := projection.WithSchema(ctx, sc, func(ctx context.Context) error {
				for j := 0; j < opts.PerWorker; j++ {
					payload := map[string]any{
						"seq":  worker*opts.PerWorker + j,
						"tag":  sc.Name,
						"kind": kinds[rng.Intn(len(kinds))],
					}
					if rng.Intn(2) == 0 {
						payload["due"] = time.Date(2020, time.Month(1+rng.Intn(12)), 1+rng.Intn(28), 0, 0, 0, 0, time.UTC).Format("2006-01-02")
					}

					t0 := time.Now()
					_, err := fx.Store.Create(ctx, sc, payload)
					durations = append(durations, time.Since(t0))
					if err != nil {
						return fmt.Errorf("worker %d create %d failed: %w", worker, j, err)
					}
				}
				return nil
			})
			if err != nil {
				errorsChan <- err
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	var firstErr error
	errorCount := 0
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no creates completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	stats.Elapsed = time.Since(start)
	return stats, firstErr
}

// Verify lists every schema's instances and fails if any carries another
// schema's tag or field set.
func (fx *Fixture) Verify(ctx context.Context) (int, error) {
	total := 0
	for _, sc := range fx.Schemas {
		err := projection.WithSchema(ctx, sc, func(ctx context.Context) error {
			instances, err := fx.Store.List(ctx, sc)
			if err != nil {
				return err
			}
			want := sc.FieldNames()
			for _, inst := range instances {
				if tag := inst.Get("tag"); tag != sc.Name {
					return fmt.Errorf("%s instance %d carries tag %v", sc.Name, inst.ID, tag)
				}
				if got := inst.Fields(); !sameFields(got, want) {
					return fmt.Errorf("%s instance %d has fields %v, want %v", sc.Name, inst.ID, got, want)
				}
			}
			total += len(instances)
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalCreates: len(durations),
	}
}

// Throughput returns creates per second over the whole run.
func (s *LatencyStats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalCreates) / s.Elapsed.Seconds()
}

// Print writes a latency summary to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Creates: %d\n", s.TotalCreates)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	fmt.Fprintf(w, "  Throughput:    %.0f/s\n", s.Throughput())
}
