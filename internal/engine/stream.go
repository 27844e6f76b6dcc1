package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

// ErrSchedulerStarted is returned by Start on a scheduler that has already run.
var ErrSchedulerStarted = errors.New("scheduler already started")

// StreamState is the lifecycle state of a Scheduler.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamRunning
	StreamCancelled
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamRunning:
		return "running"
	case StreamCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SchedulerConfig controls the polling cadence of a streaming session.
type SchedulerConfig struct {
	TickInterval time.Duration // time between ticks
	WindowStep   time.Duration // how far the window advances per tick
	FailFast     bool          // stop the stream after the first failed tick
}

// Scheduler polls a LogSource on a fixed cadence with an advancing time window.
// A Scheduler runs at most one session: Idle -> Running -> Cancelled.
type Scheduler struct {
	source  LogSource
	cfg     SchedulerConfig
	logger  *zap.Logger
	metrics *Metrics
	state   atomic.Int32
	fetches *sync.WaitGroup // fetches still running, including abandoned ones
}

// NewScheduler creates an idle scheduler. logger and metrics may be nil.
func NewScheduler(source LogSource, cfg SchedulerConfig, logger *zap.Logger, metrics *Metrics) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.WindowStep < 0 {
		cfg.WindowStep = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{source: source, cfg: cfg, logger: logger, metrics: metrics, fetches: &sync.WaitGroup{}}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() StreamState {
	return StreamState(s.state.Load())
}

// Stream is a running streaming session.
type Stream struct {
	target    model.QueryTarget
	responses chan model.QueryResponse
	done      chan struct{}
	cancel    context.CancelFunc
	sched     *Scheduler

	emitMu    sync.Mutex
	cancelled bool
}

// Target returns the target being streamed.
func (st *Stream) Target() model.QueryTarget { return st.target }

// Responses yields one response per tick. It is closed when the session ends.
func (st *Stream) Responses() <-chan model.QueryResponse { return st.responses }

// Done is closed when the session has stopped.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Cancel stops the session. Once Cancel returns no further response is delivered;
// a fetch already in flight is left to finish and its result is dropped.
func (st *Stream) Cancel() {
	st.cancel()
	st.emitMu.Lock()
	st.cancelled = true
	st.emitMu.Unlock()
	st.sched.state.Store(int32(StreamCancelled))
}

// Start transitions the scheduler to Running and begins ticking over rng.
// The session ends when ctx is done or the returned stream is cancelled.
func (s *Scheduler) Start(ctx context.Context, target model.QueryTarget, rng model.TimeRange) (*Stream, error) {
	if err := rng.Validate(); err != nil {
		return nil, &InputError{Field: "range", Message: err.Error(), Err: err}
	}
	if !s.state.CompareAndSwap(int32(StreamIdle), int32(StreamRunning)) {
		return nil, ErrSchedulerStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		target:    target,
		responses: make(chan model.QueryResponse),
		done:      make(chan struct{}),
		cancel:    cancel,
		sched:     s,
	}

	s.metrics.streamStarted()
	s.logger.Info("stream started",
		zap.String("target", target.ID),
		zap.Int64("from", rng.From),
		zap.Int64("to", rng.To),
		zap.Duration("tick", s.cfg.TickInterval),
		zap.Duration("step", s.cfg.WindowStep),
	)

	go s.run(ctx, st, rng)
	return st, nil
}

func (s *Scheduler) run(ctx context.Context, st *Stream, rng model.TimeRange) {
	defer func() {
		st.cancel()
		s.state.Store(int32(StreamCancelled))
		s.metrics.streamStopped()
		close(st.done)
		close(st.responses)
		s.logger.Info("stream stopped", zap.String("target", st.target.ID))
	}()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	step := s.cfg.WindowStep.Milliseconds()
	var offset int64
	for tick := int64(0); ; tick, offset = tick+1, model.SaturatingAdd(offset, step) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		window := rng.Shift(offset)
		resp, ok := s.fetchTick(ctx, st.target, window)
		if !ok {
			return
		}
		s.metrics.observeTick()

		if !st.emit(ctx, resp) {
			return
		}
		if resp.State == model.StateError && s.cfg.FailFast {
			s.logger.Warn("stream stopped after failed tick", zap.String("target", st.target.ID), zap.Int64("tick", tick))
			return
		}
	}
}

type fetchResult struct {
	records []model.LogRecord
	err     error
}

// fetchTick fetches one window. It returns false when the session was cancelled
// before the fetch completed.
func (s *Scheduler) fetchTick(ctx context.Context, target model.QueryTarget, window model.TimeRange) (model.QueryResponse, bool) {
	result := make(chan fetchResult, 1)
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		start := time.Now()
		records, err := s.source.Fetch(context.WithoutCancel(ctx), target.ResultLimit, window.From, window.To, target.FilterText)
		s.metrics.observeFetch(start, err)
		result <- fetchResult{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		return model.QueryResponse{}, false
	case r := <-result:
		if r.err != nil {
			ferr := newFetchError(target.ID, r.err)
			s.logger.Warn("stream tick failed",
				zap.String("target", target.ID),
				zap.Int64("from", window.From),
				zap.Int64("to", window.To),
				zap.Error(r.err),
			)
			return model.QueryResponse{Frames: []model.ResultFrame{}, State: model.StateError, Error: toQueryError(ferr)}, true
		}
		frame := BuildFrame(r.records, target)
		return model.QueryResponse{Frames: []model.ResultFrame{frame}, State: model.StateStreaming}, true
	}
}

// emit delivers resp unless the session has been cancelled.
func (st *Stream) emit(ctx context.Context, resp model.QueryResponse) bool {
	st.emitMu.Lock()
	defer st.emitMu.Unlock()
	if st.cancelled || ctx.Err() != nil {
		return false
	}
	select {
	case st.responses <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
