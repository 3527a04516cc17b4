// Package loadtest drives a store with many concurrent callers.
//
// It populates a local board, then runs workers that mix reads (search over
// the current snapshot) with writes (update, toggle, add, remove) and
// records the latency of every operation. VerifyConsistency checks that the
// in-memory working set still matches the database afterwards.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tilesticker/sticky/internal/db"
	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/search"
	"github.com/tilesticker/sticky/internal/store"
)

// Board is a populated store for load testing.
type Board struct {
	DB         *db.DB
	Store      *store.Store
	IDs        []string
	TotalItems int
}

// LatencyStats captures performance metrics from a run.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalOps     int
	Errors       int
	ByOp         map[string]int
	Durations    []time.Duration
	WallDuration time.Duration
}

// Mix weights the operations a worker picks from. Zero values disable an
// operation; an all-zero Mix means DefaultMix.
type Mix struct {
	Query  int
	Update int
	Toggle int
	Add    int
	Remove int
}

// DefaultMix is read-heavy, like an interactive board.
var DefaultMix = Mix{Query: 60, Update: 20, Toggle: 10, Add: 7, Remove: 3}

func (m Mix) total() int {
	return m.Query + m.Update + m.Toggle + m.Add + m.Remove
}

func (m Mix) pick(rng *rand.Rand) string {
	n := rng.Intn(m.total())
	for _, op := range []struct {
		name   string
		weight int
	}{
		{"query", m.Query},
		{"update", m.Update},
		{"toggle", m.Toggle},
		{"add", m.Add},
		{"remove", m.Remove},
	} {
		if n < op.weight {
			return op.name
		}
		n -= op.weight
	}
	return "query"
}

// CreateBoard opens a database at dbPath, fills it with numItems generated
// cards and loads a store over it.
func CreateBoard(ctx context.Context, dbPath string, numItems int) (*Board, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchema(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	items := generateItems(numItems, time.Now())
	if err := database.PutAll(ctx, items); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to insert items: %w", err)
	}

	st, err := store.New(store.Config{
		DB:     database,
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	if err := st.Load(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	b := &Board{DB: database, Store: st, TotalItems: numItems}
	for _, item := range items {
		b.IDs = append(b.IDs, item.ID)
	}
	return b, nil
}

// Close stops the store and closes the database.
func (b *Board) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	if b.DB != nil {
		errs = append(errs, b.DB.Close())
	}
	return errors.Join(errs...)
}

// Run starts numWorkers goroutines that each perform opsPerWorker
// operations picked by mix. seed makes the operation sequence reproducible.
func (b *Board) Run(ctx context.Context, numWorkers, opsPerWorker int, mix Mix, seed int64) (*LatencyStats, error) {
	if mix.total() <= 0 {
		mix = DefaultMix
	}

	type result struct {
		durations []time.Duration
		ops       map[string]int
		errs      []error
	}
	results := make(chan result, numWorkers)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(worker)))
			r := result{
				durations: make([]time.Duration, 0, opsPerWorker),
				ops:       make(map[string]int),
			}
			for j := 0; j < opsPerWorker; j++ {
				if ctx.Err() != nil {
					break
				}
				op := mix.pick(rng)
				began := time.Now()
				err := b.do(ctx, op, rng)
				r.durations = append(r.durations, time.Since(began))
				r.ops[op]++
				if err != nil {
					r.errs = append(r.errs, fmt.Errorf("worker %d op %d (%s): %w", worker, j, op, err))
				}
			}
			results <- r
		}(i)
	}
	wg.Wait()
	close(results)
	wall := time.Since(start)

	var all []time.Duration
	byOp := make(map[string]int)
	var errs []error
	for r := range results {
		all = append(all, r.durations...)
		for op, n := range r.ops {
			byOp[op] += n
		}
		errs = append(errs, r.errs...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no operations completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = len(errs)
	stats.ByOp = byOp
	stats.WallDuration = wall
	return stats, errors.Join(errs...)
}

// do performs one operation. Operations racing on an id another worker just
// removed are not errors.
func (b *Board) do(ctx context.Context, op string, rng *rand.Rand) error {
	switch op {
	case "query":
		st := b.Store.State()
		words := []string{"alpha", "beta", "#batch", "card", "7"}
		search.Filter(st.Items, search.Options{Query: words[rng.Intn(len(words))], Sort: search.SortType})
		return nil

	case "update":
		id, ok := b.randomID(rng)
		if !ok {
			return nil
		}
		_, err := b.Store.Update(ctx, id, schema.Patch{Title: schema.Ptr(fmt.Sprintf("card %d", rng.Intn(1000)))})
		return ignoreGone(err)

	case "toggle":
		id, ok := b.randomID(rng)
		if !ok {
			return nil
		}
		_, err := b.Store.ToggleDone(ctx, id)
		if errors.Is(err, store.ErrNotToggleable) {
			return nil
		}
		return ignoreGone(err)

	case "add":
		types := []schema.Type{schema.TypeTodo, schema.TypeMemo, schema.TypeLink, schema.TypeList, schema.TypeDate}
		_, err := b.Store.Add(ctx, types[rng.Intn(len(types))])
		return err

	case "remove":
		id, ok := b.randomID(rng)
		if !ok {
			return nil
		}
		return ignoreGone(b.Store.Remove(ctx, id, ""))
	}
	return fmt.Errorf("unknown operation %q", op)
}

func (b *Board) randomID(rng *rand.Rand) (string, bool) {
	items := b.Store.State().Items
	if len(items) == 0 {
		return "", false
	}
	return items[rng.Intn(len(items))].ID, true
}

func ignoreGone(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// VerifyConsistency checks that the store's working set holds exactly the
// database's rows and that the filtered view only names known ids.
func (b *Board) VerifyConsistency(ctx context.Context) error {
	rows, err := b.DB.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read database: %w", err)
	}
	st := b.Store.State()

	want := make([]string, 0, len(rows))
	for _, item := range rows {
		want = append(want, item.ID)
	}
	got := make([]string, 0, len(st.Items))
	for _, item := range st.Items {
		got = append(got, item.ID)
	}
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return fmt.Errorf("store holds %d items, database %d", len(got), len(want))
	}
	if dup := slices.Compact(slices.Clone(got)); len(dup) != len(got) {
		return fmt.Errorf("store holds duplicate ids")
	}
	for _, id := range st.Filtered {
		if _, ok := slices.BinarySearch(got, id); !ok {
			return fmt.Errorf("filtered view names unknown id %s", id)
		}
	}
	return nil
}

// generateItems creates count cards spread across every type.
func generateItems(count int, now time.Time) []schema.Item {
	types := []schema.Type{schema.TypeTodo, schema.TypeMemo, schema.TypeLink, schema.TypeList, schema.TypeDate}
	words := []string{"alpha", "beta", "gamma", "delta"}
	base := now.Add(-30 * 24 * time.Hour).UnixMilli()

	items := make([]schema.Item, count)
	for i := 0; i < count; i++ {
		t := types[i%len(types)]
		created := base + int64(i)*int64(time.Minute/time.Millisecond)
		item := schema.New(t, fmt.Sprintf("load-%05d", i), created)
		item.Title = fmt.Sprintf("%s card %d", words[i%len(words)], i)
		item.Tags = []string{"loadtest", fmt.Sprintf("batch-%d", i/100)}
		switch t {
		case schema.TypeMemo:
			item.Content = schema.Ptr(fmt.Sprintf("memo body %d", i))
		case schema.TypeLink:
			item.Href = schema.Ptr(fmt.Sprintf("https://example.com/%d", i))
		case schema.TypeList:
			item.List = []string{"one", "two", "three"}
		case schema.TypeDate:
			item.Date = &schema.DateInfo{SelectedDate: now.Format(time.DateOnly)}
		}
		items[i] = item
	}
	return items
}

// computeLatencyStats calculates statistics from a slice of durations.
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
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		TotalOps:  len(durations),
		Durations: sorted,
	}
}

// Throughput is operations per second of wall time.
func (s *LatencyStats) Throughput() float64 {
	if s.WallDuration <= 0 {
		return 0
	}
	return float64(s.TotalOps) / s.WallDuration.Seconds()
}

// PrintStats writes the statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Ops:     %d\n", s.TotalOps)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	if s.WallDuration > 0 {
		fmt.Fprintf(w, "  Throughput:    %.0f ops/s\n", s.Throughput())
	}
	ops := make([]string, 0, len(s.ByOp))
	for op := range s.ByOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(w, "  %-13s  %d\n", op+":", s.ByOp[op])
	}
}
