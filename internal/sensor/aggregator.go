package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/roast-probe/internal/telemetry"
)

// Defaults for polling.
const (
	DefaultInterval      = time.Second
	DefaultReadTimeout   = 500 * time.Millisecond
	DefaultBreakerTrips  = 5
	DefaultBreakerResets = 10 * time.Second
)

// errBusy is returned when a previous read of the same source has not yet returned.
var errBusy = errors.New("previous read still in progress")

// BreakerConfig controls per-source fault isolation.
type BreakerConfig struct {
	// Failures is the number of consecutive failures before reads are skipped.
	Failures uint32 `yaml:"failures"`
	// Cooldown is how long reads are skipped before a single trial read.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Config holds aggregator timing.
type Config struct {
	Interval    time.Duration `yaml:"interval"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Breaker.Failures == 0 {
		c.Breaker.Failures = DefaultBreakerTrips
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = DefaultBreakerResets
	}
	return c
}

// Reading is the outcome of one poll across all sources.
type Reading struct {
	AsOf   time.Time
	Values map[telemetry.Field]float64
	Faults []*FaultError
}

// Get returns the value of f and whether it was read this cycle.
func (r Reading) Get(f telemetry.Field) (float64, bool) {
	v, ok := r.Values[f]
	return v, ok
}

// SourceStatus summarises the health of one source.
type SourceStatus struct {
	Name      string `json:"name"`
	Breaker   string `json:"breaker"`
	Faults    uint64 `json:"faults"`
	LastError string `json:"last_error,omitempty"`
}

type guarded struct {
	src      Source
	breaker  *gobreaker.CircuitBreaker[map[telemetry.Field]float64]
	inflight atomic.Bool
	faults   atomic.Uint64
	failing  atomic.Bool

	mu      sync.Mutex
	lastErr string
}

// Aggregator polls Sources and writes their readings into a telemetry.State.
type Aggregator struct {
	state   *telemetry.State
	cfg     Config
	sources []*guarded
	now     func() time.Time
	log     *log.Entry
}

// NewAggregator creates an aggregator over sources. Zero config values take defaults.
func NewAggregator(state *telemetry.State, cfg Config, sources ...Source) *Aggregator {
	cfg = cfg.withDefaults()
	a := &Aggregator{
		state: state,
		cfg:   cfg,
		now:   time.Now,
		log:   log.WithField("component", "sensor"),
	}
	for _, src := range sources {
		a.sources = append(a.sources, a.guard(src))
	}
	return a
}

func (a *Aggregator) guard(src Source) *guarded {
	trips := a.cfg.Breaker.Failures
	return &guarded{
		src: src,
		breaker: gobreaker.NewCircuitBreaker[map[telemetry.Field]float64](gobreaker.Settings{
			Name:        "sensor:" + src.Name(),
			MaxRequests: 1,
			Timeout:     a.cfg.Breaker.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				a.log.WithFields(log.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("circuit breaker state change")
			},
		}),
	}
}

// Run polls every Interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	t := time.NewTicker(a.cfg.Interval)
	defer t.Stop()
	return a.run(ctx, t.C)
}

func (a *Aggregator) run(ctx context.Context, tick <-chan time.Time) error {
	a.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			a.Poll(ctx)
		}
	}
}

// Poll reads every source once, concurrently, and applies the result to the
// telemetry state. Good values are written in one atomic update; fields of
// failed sources keep their last good value and are flagged as faulted.
func (a *Aggregator) Poll(ctx context.Context) Reading {
	r := Reading{Values: make(map[telemetry.Field]float64)}
	if ctx.Err() != nil {
		r.AsOf = a.now()
		return r
	}

	results := make([]map[telemetry.Field]float64, len(a.sources))
	errs := make([]error, len(a.sources))

	var g errgroup.Group
	for i, s := range a.sources {
		g.Go(func() error {
			results[i], errs[i] = a.read(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
	r.AsOf = a.now()

	var readings []telemetry.Reading
	var faulted []telemetry.Field
	for i, s := range a.sources {
		if errs[i] != nil && ctx.Err() != nil {
			// Cut short by shutdown, not a fault.
			a.log.WithField("source", s.src.Name()).Debug("read abandoned on shutdown")
			continue
		}
		if errs[i] != nil {
			fe := &FaultError{Source: s.src.Name(), Err: errs[i]}
			r.Faults = append(r.Faults, fe)
			faulted = append(faulted, s.src.Fields()...)
			a.recordFault(s, fe)
			continue
		}
		a.recordSuccess(s)
		for _, f := range s.src.Fields() {
			v, ok := results[i][f]
			if !ok {
				continue
			}
			if err := validate(f, v); err != nil {
				fe := &FaultError{Source: s.src.Name(), Err: err}
				r.Faults = append(r.Faults, fe)
				faulted = append(faulted, f)
				a.recordFault(s, fe)
				continue
			}
			r.Values[f] = v
			readings = append(readings, telemetry.Reading{Field: f, Value: v})
		}
	}

	a.state.Update(r.AsOf, readings...)
	a.state.Fault(faulted...)
	return r
}

// read runs one source read through its breaker with a bounded wait.
// A read that overruns the timeout is abandoned; the source is skipped until it returns.
func (a *Aggregator) read(ctx context.Context, s *guarded) (map[telemetry.Field]float64, error) {
	return s.breaker.Execute(func() (map[telemetry.Field]float64, error) {
		if !s.inflight.CompareAndSwap(false, true) {
			return nil, errBusy
		}
		rctx, cancel := context.WithTimeout(ctx, a.cfg.ReadTimeout)

		type result struct {
			v   map[telemetry.Field]float64
			err error
		}
		done := make(chan result, 1)
		go func() {
			defer s.inflight.Store(false)
			defer cancel()
			v, err := s.src.Read(rctx)
			done <- result{v, err}
		}()

		select {
		case res := <-done:
			return res.v, res.err
		case <-rctx.Done():
			return nil, fmt.Errorf("read: %w", rctx.Err())
		}
	})
}

func (a *Aggregator) recordFault(s *guarded, fe *FaultError) {
	s.faults.Add(1)
	s.mu.Lock()
	s.lastErr = fe.Err.Error()
	s.mu.Unlock()
	if !s.failing.Swap(true) {
		a.log.WithFields(log.Fields{"source": s.src.Name(), "error": fe.Err}).Warn("sensor fault")
	}
}

func (a *Aggregator) recordSuccess(s *guarded) {
	if s.failing.Swap(false) {
		a.log.WithField("source", s.src.Name()).Info("sensor recovered")
	}
}

// Faults returns the health of each source, sorted by name.
func (a *Aggregator) Faults() []SourceStatus {
	out := make([]SourceStatus, 0, len(a.sources))
	for _, s := range a.sources {
		s.mu.Lock()
		last := s.lastErr
		s.mu.Unlock()
		out = append(out, SourceStatus{
			Name:      s.src.Name(),
			Breaker:   s.breaker.State().String(),
			Faults:    s.faults.Load(),
			LastError: last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every source, returning the first error.
func (a *Aggregator) Close() error {
	var first error
	for _, s := range a.sources {
		if err := s.src.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", s.src.Name(), err)
		}
	}
	return first
}
