// Package refresh keeps stored prices fresh by re-fetching stale records on a fixed cadence.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"price_service/internal/clock"
	"price_service/internal/fetcher"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/models"

	"github.com/google/uuid"
)

const lockKey = "price_service:refresh:pass"

var (
	ErrCapabilityDisabled = errors.New("price refresh is disabled in this environment")
	ErrPassInProgress     = errors.New("another refresh pass is in progress")
	ErrCurrencyMismatch   = errors.New("fetched currency does not match stored currency")
	ErrImplausiblePrice   = errors.New("fetched price differs implausibly from stored price")
)

type Store interface {
	FindStaleProducts(ctx context.Context, threshold time.Time, limit int) ([]models.Product, error)
	FindProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	ProductByID(ctx context.Context, productID int64) (models.Product, error)
	UpdatePriceRecord(ctx context.Context, priceRecordID int64, upd models.PriceUpdate) error
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, store string) (fetcher.Result, error)
}

// Locker serialises passes across replicas. Extend reports false once the
// lock is no longer held by this process.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Publisher interface {
	PublishPriceChanged(ctx context.Context, event models.PriceChangedEvent) error
}

type Reporter interface {
	ReportPass(ctx context.Context, report PassReport) error
}

type Metrics interface {
	ObservePass(report PassReport)
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option       { return func(s *Scheduler) { s.locker = l } }
func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.publisher = p } }
func WithReporter(r Reporter) Option   { return func(s *Scheduler) { s.reporter = r } }
func WithMetrics(m Metrics) Option     { return func(s *Scheduler) { s.metrics = m } }

type Status struct {
	IsRunning        bool  `json:"is_running"`
	UpdateIntervalMs int64 `json:"update_interval_ms"`
	BatchSize        int   `json:"batch_size"`
	ScrapingEnabled  bool  `json:"scraping_enabled"`
}

// Scheduler is Idle until Start and returns to Idle on Stop. At most one pass
// runs at a time; Stop is observed between records, never in the middle of a fetch.
type Scheduler struct {
	log     *slog.Logger
	store   Store
	fetcher Fetcher
	clock   clock.Clock
	cfg     Config

	locker    Locker
	publisher Publisher
	reporter  Reporter
	metrics   Metrics

	running atomic.Bool
	// one slot: the pass in flight
	sem chan struct{}

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(log *slog.Logger, store Store, f Fetcher, clk clock.Clock, cfg Config, opts ...Option) *Scheduler {
	if clk == nil {
		clk = clock.SystemClock{}
	}

	s := &Scheduler{
		log:     log.With(slog.String("component", "refresh")),
		store:   store,
		fetcher: f,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		sem:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs a pass immediately and then one per interval until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		s.log.Info("price refresh scheduler is already running")
		return
	}

	stop := make(chan struct{})
	s.stopCh = stop
	s.running.Store(true)

	s.wg.Add(1)
	go s.loop(ctx, stop)

	s.log.Info("price refresh scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("batch_size", s.cfg.BatchSize),
	)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		s.log.Info("price refresh scheduler is not running")
		return
	}

	s.halt(s.stopCh)
	s.log.Info("price refresh scheduler stopped")
}

// Shutdown stops the scheduler and waits for the loop goroutine to exit.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Status() Status {
	return Status{
		IsRunning:        s.running.Load(),
		UpdateIntervalMs: s.cfg.Interval.Milliseconds(),
		BatchSize:        s.cfg.BatchSize,
		ScrapingEnabled:  s.cfg.Enabled,
	}
}

// TriggerUpdate refreshes one product, or every product when productID is nil,
// ignoring staleness and the batch size. It waits for a pass already in flight.
func (s *Scheduler) TriggerUpdate(ctx context.Context, productID *int64) ([]models.RefreshOutcome, error) {
	const op = "refresh.Scheduler.TriggerUpdate"

	if !s.cfg.Enabled {
		return nil, ErrCapabilityDisabled
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
	defer func() { <-s.sem }()

	release, err := s.lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	var products []models.Product
	if productID != nil {
		p, err := s.store.ProductByID(ctx, *productID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		products = []models.Product{p}
	} else {
		products, err = s.store.FindProducts(ctx, models.ProductFilter{})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	report := s.runPass(ctx, TriggerManual, products, nil)

	if report.Outcomes == nil {
		return []models.RefreshOutcome{}, nil
	}

	return report.Outcomes, nil
}

// halt must be called with s.mu held.
func (s *Scheduler) halt(stop chan struct{}) {
	if stop == nil || s.stopCh != stop {
		return
	}

	s.running.Store(false)
	close(stop)
	s.stopCh = nil
}

// loop runs passes on a fixed cadence anchored at Start. Ticks missed by an
// overlong pass are dropped.
func (s *Scheduler) loop(ctx context.Context, stop chan struct{}) {
	defer s.wg.Done()

	next := s.clock.Now()
	first := true

	for {
		s.runScheduled(ctx, stop, first)
		first = false

		now := s.clock.Now()
		next = next.Add(s.cfg.Interval)
		for !next.After(now) {
			next = next.Add(s.cfg.Interval)
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.halt(stop)
			s.mu.Unlock()
			return
		case <-s.clock.After(next.Sub(now)):
		}
	}
}

// runScheduled selects and refreshes one stale batch. The first pass after
// Start waits for a pass still in flight; later ticks skip instead.
func (s *Scheduler) runScheduled(ctx context.Context, stop <-chan struct{}, waitForSlot bool) {
	if aborted(ctx, stop) {
		return
	}

	if !s.cfg.Enabled {
		s.log.Warn("skipping scheduled pass", sl.Err(ErrCapabilityDisabled))
		return
	}

	if waitForSlot {
		select {
		case s.sem <- struct{}{}:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	} else {
		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Info("skipping scheduled pass, another pass is in flight")
			return
		}
	}
	defer func() { <-s.sem }()

	if aborted(ctx, stop) {
		return
	}

	release, err := s.lock(ctx)
	if err != nil {
		s.log.Info("skipping scheduled pass", sl.Err(err))
		return
	}
	defer release()

	threshold := s.clock.Now().Add(-s.cfg.StaleAfter)

	products, err := s.store.FindStaleProducts(ctx, threshold, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("failed to select stale products", sl.Err(err))
		s.finish(ctx, PassReport{
			RunID:      uuid.NewString(),
			Trigger:    TriggerScheduled,
			StartedAt:  s.clock.Now(),
			FinishedAt: s.clock.Now(),
			Err:        err,
		})
		return
	}

	if len(products) == 0 {
		s.log.Info("all prices are up to date")
		return
	}

	s.runPass(ctx, TriggerScheduled, products, stop)
}

// lock takes the cross-replica pass lock and keeps extending it until the
// returned release is called.
func (s *Scheduler) lock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	release, ok, err := s.locker.Acquire(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !ok {
		return nil, ErrPassInProgress
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepLock(ctx, done)
	}()

	return func() {
		close(done)
		wg.Wait()
		release()
	}, nil
}

func (s *Scheduler) keepLock(ctx context.Context, done <-chan struct{}) {
	every := s.cfg.LockTTL / 2

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-s.clock.After(every):
		}

		held, err := s.locker.Extend(ctx, lockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.Warn("failed to extend pass lock", sl.Err(err))
		case !held:
			s.log.Warn("pass lock lost before the pass finished")
			return
		}
	}
}

// runPass walks products in selection order. stop may be nil for manual passes.
func (s *Scheduler) runPass(
	ctx context.Context,
	trigger Trigger,
	products []models.Product,
	stop <-chan struct{},
) PassReport {
	report := PassReport{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.clock.Now(),
		Products:  len(products),
	}

	log := s.log.With(
		slog.String("run_id", report.RunID),
		slog.String("trigger", string(trigger)),
	)

	log.Info("price refresh pass started", slog.Int("products", len(products)))

	for i, p := range products {
		if aborted(ctx, stop) {
			report.Aborted = true
			break
		}

		updated := false
		for _, rec := range p.Prices {
			if aborted(ctx, stop) {
				report.Aborted = true
				break
			}

			out := s.refreshRecord(ctx, log, p, rec)
			report.Outcomes = append(report.Outcomes, out)
			updated = updated || out.Updated
		}

		if report.Aborted {
			break
		}

		if updated && i < len(products)-1 && !s.pause(ctx, stop) {
			report.Aborted = true
			break
		}
	}

	report.FinishedAt = s.clock.Now()

	if report.Aborted {
		log.Info("price refresh pass stopped early")
	}

	log.Info("price refresh pass completed",
		slog.Int("updated", report.Updated()),
		slog.Int("failed", report.Failed()),
		slog.Bool("aborted", report.Aborted),
	)

	s.finish(ctx, report)

	return report
}

func (s *Scheduler) refreshRecord(
	ctx context.Context,
	log *slog.Logger,
	p models.Product,
	rec models.PriceRecord,
) models.RefreshOutcome {
	out := models.RefreshOutcome{
		ProductID:     p.ID,
		ProductName:   p.Name,
		PriceRecordID: rec.ID,
		Store:         rec.Store.Name,
		Market:        rec.Market,
		OldPrice:      rec.Price,
	}

	log = log.With(
		slog.Int64("product_id", p.ID),
		slog.Int64("price_record_id", rec.ID),
		slog.String("store", rec.Store.Name),
	)

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	res, err := s.fetcher.Fetch(fetchCtx, rec.SourceURL, rec.Store.Name)
	cancel()

	if err == nil {
		err = s.check(rec, res)
	}
	if err != nil {
		log.Warn("failed to refresh price", sl.Err(err))
		out.Error = err.Error()
		return out
	}

	now := s.clock.Now()
	err = s.store.UpdatePriceRecord(ctx, rec.ID, models.PriceUpdate{
		Price:         res.Price,
		IsAvailable:   res.IsAvailable,
		LastRefreshed: now,
	})
	if err != nil {
		log.Error("failed to store refreshed price", sl.Err(err))
		out.Error = err.Error()
		return out
	}

	out.NewPrice = res.Price
	out.Updated = true

	log.Debug("price refreshed",
		slog.Float64("old_price", rec.Price),
		slog.Float64("new_price", res.Price),
		slog.Bool("is_available", res.IsAvailable),
	)

	if s.publisher != nil && (res.Price != rec.Price || res.IsAvailable != rec.IsAvailable) {
		event := models.PriceChangedEvent{
			ProductID:     p.ID,
			PriceRecordID: rec.ID,
			Store:         rec.Store.Name,
			Market:        rec.Market,
			OldPrice:      rec.Price,
			NewPrice:      res.Price,
			Currency:      rec.Currency,
			IsAvailable:   res.IsAvailable,
			RefreshedAt:   now,
		}
		if err := s.publisher.PublishPriceChanged(ctx, event); err != nil {
			log.Warn("failed to publish price change", sl.Err(err))
		}
	}

	return out
}

func (s *Scheduler) check(rec models.PriceRecord, res fetcher.Result) error {
	if res.Currency != "" && rec.Currency != "" && !strings.EqualFold(res.Currency, rec.Currency) {
		return fmt.Errorf("%w: got %s, stored %s", ErrCurrencyMismatch, res.Currency, rec.Currency)
	}

	if s.cfg.MaxPriceChangeRatio > 0 && rec.Price > 0 {
		ratio := math.Max(res.Price/rec.Price, rec.Price/res.Price)
		if ratio > s.cfg.MaxPriceChangeRatio {
			return fmt.Errorf("%w: %.2f -> %.2f", ErrImplausiblePrice, rec.Price, res.Price)
		}
	}

	return nil
}

// pause waits ItemDelay and reports false when the pass should stop instead.
func (s *Scheduler) pause(ctx context.Context, stop <-chan struct{}) bool {
	if s.cfg.ItemDelay <= 0 {
		return true
	}

	select {
	case <-s.clock.After(s.cfg.ItemDelay):
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) finish(ctx context.Context, report PassReport) {
	if s.metrics != nil {
		s.metrics.ObservePass(report)
	}

	if s.reporter != nil {
		if err := s.reporter.ReportPass(ctx, report); err != nil {
			s.log.Warn("failed to report refresh pass",
				slog.String("run_id", report.RunID),
				sl.Err(err),
			)
		}
	}
}

func aborted(ctx context.Context, stop <-chan struct{}) bool {
	if ctx.Err() != nil {
		return true
	}

	select {
	case <-stop:
		return true
	default:
		return false
	}
}
