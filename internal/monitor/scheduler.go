// Package monitor drives the watch cycle: scrape every source, classify
// against its stored snapshot, persist, and send one digest per cycle.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/qepting91/listing-watcher/internal/change"
	"github.com/qepting91/listing-watcher/internal/domain"
	"github.com/qepting91/listing-watcher/internal/notify"
)

// State of the scheduler
type State int32

const (
	Idle State = iota
	Running
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

// Config tunes the scheduler.
type Config struct {
	// Interval between cycle starts. Default: 1 minute.
	Interval time.Duration
	// SubjectPrefix for the digest subject. Default: "Listing Alert".
	SubjectPrefix string
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "Listing Alert"
	}
}

// SourceReport is the outcome of one source within a cycle
type SourceReport struct {
	URL      string `json:"url"`
	Label    string `json:"label,omitempty"`
	Observed int    `json:"observed"`
	Tracked  int    `json:"tracked"` // size of the persisted snapshot
	New      int    `json:"new"`
	Updated  int    `json:"updated"`
	Error    string `json:"error,omitempty"`
}

// Report summarises a finished cycle
type Report struct {
	CycleID       string         `json:"cycle_id"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Sources       []SourceReport `json:"sources"`
	Changes       int            `json:"changes"`
	Delivered     bool           `json:"delivered"`
	DeliveryError string         `json:"delivery_error,omitempty"`
}

// Failed reports whether no source could be scraped
func (r Report) Failed() bool {
	for _, s := range r.Sources {
		if s.Error == "" {
			return false
		}
	}
	return len(r.Sources) > 0
}

// Scheduler runs cycles one at a time. Triggers that arrive while a
// cycle is running are dropped, not queued.
type Scheduler struct {
	sources   []domain.Source
	collector domain.Collector
	store     domain.SnapshotStore
	notifier  notify.Notifier
	config    Config
	logger    *slog.Logger
	metrics   *Metrics

	state   atomic.Int32
	last    atomic.Pointer[Report]
	skipLog rate.Sometimes
}

// New creates a Scheduler. metrics and logger may be nil.
func New(sources []domain.Source, c domain.Collector, st domain.SnapshotStore, n notify.Notifier,
	cfg Config, metrics *Metrics, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Scheduler{
		sources:   sources,
		collector: c,
		store:     st,
		notifier:  n,
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		skipLog:   rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// LastReport returns the most recent finished cycle, or nil.
func (s *Scheduler) LastReport() *Report { return s.last.Load() }

// Metrics returns the scheduler's collectors.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// Run starts a cycle immediately and then on every tick until ctx is
// cancelled. Cancellation moves the scheduler to ShuttingDown: no new
// cycle starts, a cycle in flight runs to completion, then Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	var inflight sync.WaitGroup
	cycleCtx := context.WithoutCancel(ctx)

	trigger := func() {
		// a tick and the cancellation can be ready together
		if ctx.Err() != nil {
			s.state.Store(int32(ShuttingDown))
			return
		}
		if !s.begin() {
			s.skipped()
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer s.end()
			s.cycle(cycleCtx)
		}()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("Monitoring", "sources", len(s.sources), "interval", s.config.Interval)
	trigger()

	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(ShuttingDown))
			s.logger.Info("Shutdown requested, waiting for in-flight cycle")
			inflight.Wait()
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			trigger()
		}
	}
}

// RunCycle runs one cycle synchronously. It returns false without doing
// anything when a cycle is already running or shutdown has begun.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, bool) {
	if !s.begin() {
		s.skipped()
		return Report{}, false
	}
	defer s.end()
	return s.cycle(ctx), true
}

// Shutdown stops further cycles without waiting; for callers driving
// RunCycle themselves.
func (s *Scheduler) Shutdown() {
	s.state.Store(int32(ShuttingDown))
}

func (s *Scheduler) begin() bool {
	return s.state.CompareAndSwap(int32(Idle), int32(Running))
}

// end returns to Idle unless shutdown began meanwhile
func (s *Scheduler) end() {
	s.state.CompareAndSwap(int32(Running), int32(Idle))
}

func (s *Scheduler) skipped() {
	s.metrics.CyclesSkipped.Inc()
	s.skipLog.Do(func() {
		s.logger.Warn("Cycle trigger skipped", "state", s.State().String())
	})
}

func (s *Scheduler) cycle(ctx context.Context) Report {
	rep := Report{CycleID: uuid.NewString(), StartedAt: time.Now()}
	log := s.logger.With("cycle", rep.CycleID)
	s.metrics.CyclesTotal.Inc()

	var batch notify.Batch
	for _, src := range s.sources {
		sr := s.processSource(ctx, log, src, &batch)
		rep.Sources = append(rep.Sources, sr)
	}
	rep.Changes = batch.Len()

	if batch.ShouldNotify() {
		if err := s.deliver(ctx, &batch); err != nil {
			s.metrics.DeliveriesFailed.Inc()
			rep.DeliveryError = err.Error()
			log.Error("Delivery failed", "records", batch.Len(), "err", err)
		} else {
			s.metrics.DigestsSent.Inc()
			rep.Delivered = true
			log.Info("Sent digest", "records", batch.Len())
		}
	} else {
		log.Info("No new or changed listings")
	}

	rep.Duration = time.Since(rep.StartedAt)
	s.metrics.CycleDuration.Observe(rep.Duration.Seconds())
	s.last.Store(&rep)
	return rep
}

// processSource never returns an error: every failure is logged and
// recorded so the remaining sources still run.
func (s *Scheduler) processSource(ctx context.Context, log *slog.Logger, src domain.Source, batch *notify.Batch) SourceReport {
	sr := SourceReport{URL: src.URL, Label: src.Label}
	log = log.With("source", src.Name())

	listings, err := s.collector.Scrape(ctx, src.URL)
	if err != nil {
		s.metrics.SourceErrors.WithLabelValues("fetch").Inc()
		sr.Error = err.Error()
		log.Error("Scrape failed", "err", err)
		return sr
	}
	sr.Observed = len(listings)

	prev := s.store.Load(ctx, src.URL)
	next, changes := change.Classify(prev, listings)
	sr.Tracked = len(prev)

	for _, c := range changes {
		switch c.ChangeType {
		case domain.ChangeNew:
			sr.New++
		case domain.ChangeUpdated:
			sr.Updated++
		}
	}

	if err := s.store.Save(ctx, src.URL, next); err != nil {
		// previous snapshot stays authoritative; these changes will be
		// seen again next cycle
		s.metrics.SourceErrors.WithLabelValues("store_write").Inc()
		sr.Error = err.Error()
		log.Error("Snapshot save failed, withholding changes", "changes", len(changes), "err", err)
		return sr
	}
	sr.Tracked = len(next)
	s.metrics.TrackedListings.WithLabelValues(src.URL).Set(float64(sr.Tracked))
	s.metrics.Changes.WithLabelValues(string(domain.ChangeNew)).Add(float64(sr.New))
	s.metrics.Changes.WithLabelValues(string(domain.ChangeUpdated)).Add(float64(sr.Updated))

	if src.Label != "" {
		batch.Label(src.URL, src.Label)
	}
	batch.Accumulate(changes...)

	log.Info("Source processed", "observed", sr.Observed, "new", sr.New, "updated", sr.Updated)
	return sr
}

func (s *Scheduler) deliver(ctx context.Context, batch *notify.Batch) error {
	digest, err := notify.Render(batch, s.config.SubjectPrefix)
	if err != nil {
		return errors.Join(domain.ErrDelivery, err)
	}
	return s.notifier.Deliver(ctx, digest)
}
