// Package executor runs a search end to end: it pins one snapshot, parses
// the query against it, ranks the matches and builds the snippets.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/status"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

// SnapshotSource hands out the currently published snapshot and the
// identity of the index it belongs to. *indexer.Index satisfies it.
type SnapshotSource interface {
	Snapshot() (*index.Snapshot, error)
	IndexID() string
}

// Cache memoises results under a key that already identifies the index
// and its snapshot.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, compute func() (*SearchResult, error)) (*SearchResult, bool, error)
}

type Hit struct {
	DocumentID  string   `json:"document_id"`
	DisplayName string   `json:"display_name"`
	Score       float64  `json:"score"`
	Snippet     string   `json:"snippet"`
	Snippets    []string `json:"snippets,omitempty"`
}

type SearchResult struct {
	Query      string        `json:"query"`
	Tree       string        `json:"tree,omitempty"`
	Generation uint64        `json:"generation"`
	TotalHits  int           `json:"total_hits"`
	Results    []Hit         `json:"results"`
	Took       time.Duration `json:"took_ns"`
}

// Options control one search. A nil Highlight.Formatter uses brackets and
// is the only form that is cached.
type Options struct {
	Limit     int
	Highlight highlight.Options
	Sink      status.Sink
}

type Deps struct {
	Normalizer *normalizer.Normalizer
	Metrics    *metrics.Metrics
	Sink       status.Sink
	Cache      Cache
}

type Executor struct {
	source  SnapshotSource
	cfg     config.SearchConfig
	norm    *normalizer.Normalizer
	metrics *metrics.Metrics
	sink    status.Sink
	cache   Cache
	logger  *slog.Logger
}

func New(source SnapshotSource, cfg config.SearchConfig, deps Deps) *Executor {
	if deps.Normalizer == nil {
		deps.Normalizer = normalizer.Default()
	}
	if deps.Sink == nil {
		deps.Sink = status.Discard
	}
	return &Executor{
		source:  source,
		cfg:     cfg,
		norm:    deps.Normalizer,
		metrics: deps.Metrics,
		sink:    deps.Sink,
		cache:   deps.Cache,
		logger:  logger.WithComponent("query-executor"),
	}
}

// DefaultOptions returns the configured limit and snippet settings.
func (e *Executor) DefaultOptions() Options {
	return Options{
		Limit: e.cfg.DefaultLimit,
		Highlight: highlight.Options{
			MaxChars:     e.cfg.Highlight.MaxChars,
			Surround:     e.cfg.Highlight.Surround,
			MaxFragments: e.cfg.Highlight.MaxFragments,
		},
	}
}

// Prepared is a parsed query bound to the snapshot it will run against.
type Prepared struct {
	Query    string
	Tree     parser.Node
	Snapshot *index.Snapshot
	IndexID  string
}

// Prepare pins the current snapshot and parses query. Every later step of
// the search sees that snapshot even if a commit lands in between.
func (e *Executor) Prepare(query string) (*Prepared, error) {
	if e.source == nil {
		return nil, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable,
			"no index is open, index documents first")
	}
	snap, err := e.source.Snapshot()
	if err != nil {
		return nil, err
	}
	tree, err := parser.Parse(query, e.norm)
	if err != nil {
		return nil, err
	}
	return &Prepared{Query: query, Tree: tree, Snapshot: snap, IndexID: e.source.IndexID()}, nil
}

// Search prepares and runs query.
func (e *Executor) Search(ctx context.Context, query string, opts Options) (*SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "search", "")
	defer func() {
		span.End()
		span.Log(e.logger)
	}()

	emit := status.NewEmitter(status.Multi(e.sink, opts.Sink), status.OpSearch, span.TraceID)
	emit.Info("Running query: %s", query)

	start := time.Now()
	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	p, err := e.Prepare(query)
	parseSpan.End()
	if err != nil {
		e.metrics.SearchFinished("error", "none", time.Since(start), 0)
		emit.Error(err, "Search error: %v", err)
		return nil, err
	}
	return e.run(ctx, p, opts, emit, start)
}

// Run executes a prepared query.
func (e *Executor) Run(ctx context.Context, p *Prepared, opts Options) (*SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "search", "")
	defer func() {
		span.End()
		span.Log(e.logger)
	}()
	emit := status.NewEmitter(status.Multi(e.sink, opts.Sink), status.OpSearch, span.TraceID)
	emit.Info("Running query: %s", p.Query)
	return e.run(ctx, p, opts, emit, time.Now())
}

func (e *Executor) run(ctx context.Context, p *Prepared, opts Options, emit *status.Emitter, start time.Time) (*SearchResult, error) {
	log := logger.FromContext(ctx).With("component", "query-executor")
	if e.cfg.MaxResults > 0 && opts.Limit > e.cfg.MaxResults {
		opts.Limit = e.cfg.MaxResults
	}

	compute := func() (*SearchResult, error) { return e.execute(ctx, p, opts) }

	var (
		result      *SearchResult
		err         error
		cacheStatus = "none"
	)
	if e.cache != nil && opts.Highlight.Formatter == nil && p.Tree != nil {
		var hit bool
		result, hit, err = e.cache.GetOrCompute(ctx, CacheKey(p, opts), compute)
		if hit {
			cacheStatus = "hit"
			e.metrics.CacheHit()
		} else {
			cacheStatus = "miss"
			e.metrics.CacheMiss()
		}
	} else {
		result, err = compute()
	}
	if err != nil {
		e.metrics.SearchFinished("error", cacheStatus, time.Since(start), 0)
		emit.Error(err, "Search error: %v", err)
		return nil, err
	}

	result.Took = time.Since(start)
	resultType := "hits"
	if result.TotalHits == 0 {
		resultType = "no_hits"
	}
	e.metrics.SearchFinished(resultType, cacheStatus, result.Took, len(result.Results))
	emit.Success("Found %d results.", result.TotalHits)

	log.Info("query executed",
		"query", p.Query,
		"tree", result.Tree,
		"generation", result.Generation,
		"total_hits", result.TotalHits,
		"results", len(result.Results),
		"cache", cacheStatus,
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, p *Prepared, opts Options) (*SearchResult, error) {
	result := &SearchResult{
		Query:      p.Query,
		Generation: p.Snapshot.Generation(),
		Results:    []Hit{},
	}
	if p.Tree == nil {
		return result, nil
	}
	result.Tree = p.Tree.String()

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	scored, total := ranker.Search(p.Snapshot, p.Tree, opts.Limit)
	rankSpan.SetAttr("total_hits", total)
	rankSpan.End()
	result.TotalHits = total

	_, hlSpan := tracing.StartChildSpan(ctx, "highlight")
	defer hlSpan.End()
	hl := highlight.New(e.norm, opts.Highlight)
	result.Results = make([]Hit, 0, len(scored))
	for _, sd := range scored {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("building snippets: %w", errors.Join(apperrors.ErrTimeout, err))
		}
		doc, ok := p.Snapshot.DocumentByOrdinal(sd.Ordinal)
		if !ok {
			continue
		}
		snippets := hl.Highlight(doc, p.Tree)
		result.Results = append(result.Results, Hit{
			DocumentID:  doc.ID,
			DisplayName: doc.DisplayName,
			Score:       sd.Score,
			Snippet:     snippets[0],
			Snippets:    snippets,
		})
	}
	hlSpan.SetAttr("snippets", len(result.Results))
	return result, nil
}

// CacheKey identifies a result: index id, snapshot generation and content
// fingerprint, canonical query tree, limit and snippet window. Any commit
// changes the generation, and indexes sharing one cache never share keys
// unless their snapshots hold the same content.
func CacheKey(p *Prepared, opts Options) string {
	tree := ""
	if p.Tree != nil {
		tree = p.Tree.String()
	}
	h := opts.Highlight
	return fmt.Sprintf("index=%s|gen=%d|fp=%016x|q=%s|limit=%d|hl=%d,%d,%d",
		p.IndexID, p.Snapshot.Generation(), p.Snapshot.Fingerprint(),
		tree, opts.Limit, h.MaxChars, h.Surround, h.MaxFragments)
}
