package vector

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the outcome of opening the vector index.
type State int

const (
	// StateUnavailable means no index can be used; writes are dropped and queries return nothing.
	StateUnavailable State = iota
	// StateReady means an existing index was found.
	StateReady
	// StateCreated means the index did not exist and was created.
	StateCreated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCreated:
		return "created"
	default:
		return "unavailable"
	}
}

// DefaultBatchSize is the largest number of records sent in one upsert call.
const DefaultBatchSize = 100

// UpsertReport summarizes one Gateway.Upsert call.
type UpsertReport struct {
	Batches     int  `json:"batches"`
	Failed      int  `json:"failed"`
	Upserted    int  `json:"upserted"`
	Unavailable bool `json:"unavailable"`
}

// Gateway fronts an Index with batching, bounded fan-out, and an explicit
// availability state. A Gateway with no usable index is a no-op that reports
// itself unavailable.
type Gateway struct {
	index       Index
	state       State
	batchSize   int
	concurrency int
	logger      *zap.Logger
	saveMu      sync.Mutex
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets a logger for batch failures and initialization.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithBatchSize sets the upsert batch size.
func WithBatchSize(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// WithUpsertConcurrency sets how many batches may be in flight at once.
func WithUpsertConcurrency(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// Open initializes the gateway. A nil index is Unavailable. For a Provisioner the
// collection is looked up; if the lookup fails or finds nothing, creation is
// attempted, and if that fails too the gateway is Unavailable.
func Open(ctx context.Context, idx Index, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		index:       idx,
		batchSize:   DefaultBatchSize,
		concurrency: 2,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.state = g.open(ctx)
	g.logger.Info("vector index opened", zap.String("state", g.state.String()))
	return g
}

func (g *Gateway) open(ctx context.Context) State {
	if g.index == nil {
		g.logger.Warn("no vector index configured, indexing disabled")
		return StateUnavailable
	}
	p, ok := g.index.(Provisioner)
	if !ok {
		return StateReady
	}
	exists, err := p.Exists(ctx)
	if err == nil && exists {
		return StateReady
	}
	if err != nil {
		g.logger.Warn("vector index lookup failed, trying to create it", zap.Error(err))
	}
	if err := p.Create(ctx); err != nil {
		g.logger.Warn("vector index creation failed, indexing disabled", zap.Error(err))
		return StateUnavailable
	}
	return StateCreated
}

// State returns the initialization state.
func (g *Gateway) State() State {
	return g.state
}

// Available reports whether the index can be written and queried.
func (g *Gateway) Available() bool {
	return g != nil && g.state != StateUnavailable
}

// Index returns the underlying index, or nil.
func (g *Gateway) Index() Index {
	return g.index
}

// Upsert writes records in batches. Batches are started in order with at most
// the configured number in flight; a failed batch is logged and counted and
// does not stop the others.
func (g *Gateway) Upsert(ctx context.Context, records []Record) UpsertReport {
	if !g.Available() {
		return UpsertReport{Unavailable: true}
	}
	batches := splitBatches(records, g.batchSize)
	report := UpsertReport{Batches: len(batches)}
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, batch := range batches {
		eg.Go(func() error {
			err := g.index.Upsert(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				g.logger.Warn("vector upsert batch failed",
					zap.Int("batch", i), zap.Int("size", len(batch)), zap.Error(err))
				return nil
			}
			report.Upserted += len(batch)
			return nil
		})
	}
	_ = eg.Wait()
	return report
}

// Query returns at most topK matches passing filter. An unavailable gateway returns no matches.
func (g *Gateway) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]*Match, error) {
	if !g.Available() || topK <= 0 {
		return nil, nil
	}
	matches, err := g.index.Query(ctx, vector, topK, filter)
	if err != nil {
		return nil, err
	}
	scoped := matches[:0]
	for _, m := range matches {
		if filter.Matches(m.Metadata) {
			scoped = append(scoped, m)
		}
	}
	if len(scoped) > topK {
		scoped = scoped[:topK]
	}
	return scoped, nil
}

// Count returns the number of stored records, or 0 when unavailable.
func (g *Gateway) Count(ctx context.Context) (int, error) {
	if !g.Available() {
		return 0, nil
	}
	return g.index.Count(ctx)
}

// Save persists the index when the backend keeps a local file. Concurrent
// calls are serialized.
func (g *Gateway) Save(path string) error {
	if g == nil || path == "" {
		return nil
	}
	g.saveMu.Lock()
	defer g.saveMu.Unlock()
	if p, ok := g.index.(Persister); ok {
		return p.Save(path)
	}
	return nil
}

// Close closes the underlying index.
func (g *Gateway) Close() error {
	if g.index == nil {
		return nil
	}
	return g.index.Close()
}

func splitBatches(records []Record, size int) [][]Record {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
