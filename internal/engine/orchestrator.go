package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

const (
	DefaultTickInterval = time.Second
	DefaultWindowStep   = 10 * time.Second
)

// Config holds the tunables of the orchestrator and its streaming sessions.
type Config struct {
	ContextWindow        time.Duration `yaml:"context_window"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	WindowStep           time.Duration `yaml:"window_step"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"` // 0 means unbounded
	StreamFailFast       bool          `yaml:"stream_fail_fast"`
}

// DefaultConfig returns the stock configuration: 6h context window, 1s ticks,
// 10s window step, unbounded fan-out.
func DefaultConfig() Config {
	return Config{
		ContextWindow: DefaultContextWindow,
		TickInterval:  DefaultTickInterval,
		WindowStep:    DefaultWindowStep,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator is the entry point of the engine. It runs one-shot fan-out queries,
// starts streaming sessions and executes context queries.
type Orchestrator struct {
	source   LogSource
	cfg      Config
	resolver ContextResolver
	logger   *zap.Logger
	metrics  *Metrics
	fetches  sync.WaitGroup
}

var (
	_ Queryable    = (*Orchestrator)(nil)
	_ ContextAware = (*Orchestrator)(nil)
)

// New creates an Orchestrator fetching from source.
func New(source LogSource, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	o := &Orchestrator{
		source:   source,
		cfg:      cfg,
		resolver: ContextResolver{Window: cfg.ContextWindow},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Execute runs req in the mode it asks for and passes every response to emit.
// One-shot requests emit exactly once. Streaming requests emit once per tick and
// return after ctx is done or the stream stops on its own.
func (o *Orchestrator) Execute(ctx context.Context, req model.QueryRequest, emit func(model.QueryResponse)) error {
	if !req.Streaming {
		resp, err := o.Query(ctx, req)
		if err != nil {
			return err
		}
		emit(resp)
		return nil
	}

	st, err := o.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer st.Cancel()
	for resp := range st.Responses() {
		if ctx.Err() != nil {
			break
		}
		emit(resp)
	}
	return nil
}

// Query runs a one-shot query: hidden targets are skipped, the remaining targets are
// fetched concurrently and the call returns once all of them completed. Frames are in
// target order. If any fetch fails the whole call fails and no frames are returned.
func (o *Orchestrator) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	if err := req.Range.Validate(); err != nil {
		return model.QueryResponse{}, &InputError{Field: "range", Message: err.Error(), Err: err}
	}
	o.metrics.observeQuery("oneshot")

	targets := visibleTargets(req.Targets)
	switch len(targets) {
	case 0:
		return model.QueryResponse{Frames: []model.ResultFrame{}, State: model.StateDone}, nil
	case 1:
		frame, err := o.fetchFrame(ctx, targets[0], req.Range)
		if err != nil {
			o.logQueryError(req, err)
			return model.QueryResponse{}, err
		}
		return model.QueryResponse{Frames: []model.ResultFrame{frame}, State: model.StateDone}, nil
	}

	start := time.Now()
	frames := make([]model.ResultFrame, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.MaxConcurrentFetches > 0 {
		g.SetLimit(o.cfg.MaxConcurrentFetches)
	}
	for i, t := range targets {
		g.Go(func() error {
			frame, err := o.fetchFrame(gctx, t, req.Range)
			if err != nil {
				return err
			}
			frames[i] = frame
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logQueryError(req, err)
		return model.QueryResponse{}, err
	}

	o.logger.Debug("query completed",
		zap.String("request_id", req.RequestID),
		zap.Int("targets", len(targets)),
		zap.Duration("took", time.Since(start)),
	)
	return model.QueryResponse{Frames: frames, State: model.StateDone}, nil
}

// Stream starts a streaming session for req. Only the first visible target is
// streamed; additional targets are not supported in streaming mode and are logged
// and ignored.
func (o *Orchestrator) Stream(ctx context.Context, req model.QueryRequest) (*Stream, error) {
	if err := req.Range.Validate(); err != nil {
		return nil, &InputError{Field: "range", Message: err.Error(), Err: err}
	}
	targets := visibleTargets(req.Targets)
	if len(targets) == 0 {
		return nil, &InputError{Field: "targets", Message: "streaming requires a visible target"}
	}
	if len(targets) > 1 {
		dropped := make([]string, 0, len(targets)-1)
		for _, t := range targets[1:] {
			dropped = append(dropped, t.ID)
		}
		o.logger.Warn("streaming supports a single target, ignoring the rest",
			zap.String("request_id", req.RequestID),
			zap.String("streamed", targets[0].ID),
			zap.Strings("ignored", dropped),
		)
	}
	o.metrics.observeQuery("stream")

	sched := NewScheduler(o.source, SchedulerConfig{
		TickInterval: o.cfg.TickInterval,
		WindowStep:   o.cfg.WindowStep,
		FailFast:     o.cfg.StreamFailFast,
	}, o.logger.Named("stream"), o.metrics)
	sched.fetches = &o.fetches
	return sched.Start(ctx, targets[0], req.Range)
}

// ContextQuery fetches the records around row. It returns nil, nil when there is no
// original target to derive the query from.
func (o *Orchestrator) ContextQuery(ctx context.Context, row model.LogRecord, dir model.Direction, original *model.QueryTarget) (*model.QueryResponse, error) {
	creq := o.resolver.Resolve(row, dir, original)
	if creq == nil {
		return nil, nil
	}

	resp, err := o.Query(ctx, model.QueryRequest{
		RequestID: creq.Target.ID,
		Targets:   []model.QueryTarget{creq.Target},
		Range:     creq.Range,
	})
	if err != nil {
		o.logger.Error("context query failed",
			zap.String("target", original.ID),
			zap.String("anchor", row.ID),
			zap.String("direction", string(dir)),
			zap.Error(err),
		)
		return nil, &ContextQueryError{Message: contextQueryFailedMessage, Status: statusOf(err), Err: err}
	}
	return &resp, nil
}

// Drain waits until the fetches of stopped streams have returned or ctx is done.
// Call it after every stream was cancelled and before closing the source.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.fetches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModifyQuery applies a filter action to target. See ApplyFilterAction.
func (o *Orchestrator) ModifyQuery(target model.QueryTarget, action model.FilterAction) model.QueryTarget {
	return ApplyFilterAction(target, action)
}

func (o *Orchestrator) fetchFrame(ctx context.Context, t model.QueryTarget, rng model.TimeRange) (model.ResultFrame, error) {
	start := time.Now()
	records, err := o.source.Fetch(ctx, t.ResultLimit, rng.From, rng.To, t.FilterText)
	o.metrics.observeFetch(start, err)
	if err != nil {
		return model.ResultFrame{}, newFetchError(t.ID, err)
	}
	return BuildFrame(records, t), nil
}

func (o *Orchestrator) logQueryError(req model.QueryRequest, err error) {
	o.logger.Warn("query failed",
		zap.String("request_id", req.RequestID),
		zap.Int("status", statusOf(err)),
		zap.Error(err),
	)
}

func visibleTargets(targets []model.QueryTarget) []model.QueryTarget {
	out := make([]model.QueryTarget, 0, len(targets))
	for _, t := range targets {
		if !t.Hidden {
			out = append(out, t)
		}
	}
	return out
}
