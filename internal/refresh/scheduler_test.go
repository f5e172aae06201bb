package refresh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"price_service/internal/clock/clocktest"
	"price_service/internal/fetcher"
	"price_service/internal/models"
	"price_service/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu       sync.Mutex
	products []models.Product
}

func newMemStore(products ...models.Product) *memStore {
	return &memStore{products: products}
}

func (m *memStore) FindStaleProducts(_ context.Context, threshold time.Time, limit int) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Product
	for _, p := range m.products {
		var stale []models.PriceRecord
		for _, rec := range p.Prices {
			if rec.LastRefreshed.Before(threshold) {
				stale = append(stale, rec)
			}
		}
		if len(stale) == 0 {
			continue
		}
		p.Prices = stale
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) FindProducts(_ context.Context, _ models.ProductFilter) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		p.Prices = slices.Clone(p.Prices)
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) ProductByID(_ context.Context, id int64) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.products {
		if p.ID == id {
			p.Prices = slices.Clone(p.Prices)
			return p, nil
		}
	}
	return models.Product{}, storage.ErrProductNotFound
}

func (m *memStore) UpdatePriceRecord(_ context.Context, id int64, upd models.PriceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.products {
		for j := range m.products[i].Prices {
			rec := &m.products[i].Prices[j]
			if rec.ID != id {
				continue
			}
			rec.Price = upd.Price
			rec.IsAvailable = upd.IsAvailable
			if upd.LastRefreshed.After(rec.LastRefreshed) {
				rec.LastRefreshed = upd.LastRefreshed
			}
			return nil
		}
	}
	return storage.ErrPriceRecordNotFound
}

func (m *memStore) record(id int64) models.PriceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.products {
		for _, rec := range p.Prices {
			if rec.ID == id {
				return rec
			}
		}
	}
	return models.PriceRecord{}
}

type stubFetcher struct {
	mu      sync.Mutex
	results map[string]fetcher.Result
	errs    map[string]error
	calls   []string

	// when set, the first Fetch signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (f *stubFetcher) Fetch(_ context.Context, sourceURL, _ string) (fetcher.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sourceURL)
	first := len(f.calls) == 1
	res, err := f.results[sourceURL], f.errs[sourceURL]
	f.mu.Unlock()

	if first && f.entered != nil {
		close(f.entered)
		<-f.release
	}

	if err != nil {
		return fetcher.Result{}, err
	}
	if res.Price == 0 {
		res = fetcher.Result{Price: 99, Currency: "USD", IsAvailable: true}
	}
	return res, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PriceChangedEvent
}

func (p *recordingPublisher) PublishPriceChanged(_ context.Context, e models.PriceChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, e)
	return nil
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []PassReport
}

func (r *recordingReporter) ReportPass(_ context.Context, report PassReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingReporter) ObservePass(report PassReport) {
	_ = r.ReportPass(context.Background(), report)
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func (busyLocker) Extend(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

type countingLocker struct {
	mu       sync.Mutex
	ttl      time.Duration
	extends  int
	released bool
	extended chan struct{}
}

func (l *countingLocker) Acquire(_ context.Context, _ string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ttl = ttl
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released = true
	}, true, nil
}

func (l *countingLocker) Extend(context.Context, string, time.Duration) (bool, error) {
	l.mu.Lock()
	l.extends++
	l.mu.Unlock()

	l.extended <- struct{}{}
	return true, nil
}

// usProduct builds a product with one USD record last refreshed at refreshed.
func usProduct(id int64, refreshed time.Time) models.Product {
	return models.Product{
		ID:   id,
		Name: "product",
		Prices: []models.PriceRecord{{
			ID:            id * 10,
			ProductID:     id,
			Market:        models.MarketDomestic,
			Price:         20,
			Currency:      "USD",
			Store:         models.Store{Name: "Sephora", Market: models.MarketDomestic},
			SourceURL:     urlFor(id * 10),
			IsAvailable:   true,
			LastRefreshed: refreshed,
		}},
	}
}

func urlFor(recordID int64) string {
	return fmt.Sprintf("https://shop.test/p/%d", recordID)
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Interval:   2 * time.Hour,
		BatchSize:  5,
		StaleAfter: 2 * time.Hour,
	}
}

func TestScheduler_refreshesStaleBatch(t *testing.T) {
	t.Parallel()

	stale := epoch.Add(-3 * time.Hour)

	var products []models.Product
	for id := int64(1); id <= 8; id++ {
		products = append(products, usProduct(id, stale))
	}

	store := newMemStore(products...)
	f := &stubFetcher{}
	clk := clocktest.New(epoch)

	s := New(discardLogger(), store, f, clk, testConfig())
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.True(t, clk.BlockUntil(1, wait))
	assert.Equal(t, 5, f.callCount())

	for id := int64(1); id <= 8; id++ {
		rec := store.record(id * 10)
		if id <= 5 {
			assert.Equal(t, epoch, rec.LastRefreshed, id)
			assert.Equal(t, 99.0, rec.Price, id)
		} else {
			assert.Equal(t, stale, rec.LastRefreshed, id)
			assert.Equal(t, 20.0, rec.Price, id)
		}
	}

	clk.Advance(2 * time.Hour)
	require.True(t, clk.BlockUntil(1, wait))
	assert.Equal(t, 8, f.callCount())

	for id := int64(6); id <= 8; id++ {
		assert.Equal(t, epoch.Add(2*time.Hour), store.record(id*10).LastRefreshed)
	}
}

func TestScheduler_startTwiceRunsOneLoop(t *testing.T) {
	t.Parallel()

	store := newMemStore(usProduct(1, epoch.Add(-3*time.Hour)))
	f := &stubFetcher{}
	clk := clocktest.New(epoch)

	s := New(discardLogger(), store, f, clk, testConfig())
	s.Start(context.Background())
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.True(t, clk.BlockUntil(1, wait))
	assert.False(t, clk.BlockUntil(2, 100*time.Millisecond))
	assert.Equal(t, 1, f.callCount())
	assert.True(t, s.Status().IsRunning)
}

func TestScheduler_stopBetweenRecords(t *testing.T) {
	t.Parallel()

	stale := epoch.Add(-3 * time.Hour)
	store := newMemStore(usProduct(1, stale), usProduct(2, stale), usProduct(3, stale))
	f := &stubFetcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	clk := clocktest.New(epoch)

	s := New(discardLogger(), store, f, clk, testConfig())
	s.Start(context.Background())

	select {
	case <-f.entered:
	case <-time.After(wait):
		t.Fatal("fetch did not start")
	}

	s.Stop()
	assert.False(t, s.Status().IsRunning)
	close(f.release)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, 1, f.callCount())
	assert.Equal(t, epoch, store.record(10).LastRefreshed)
	assert.Equal(t, stale, store.record(20).LastRefreshed)
	assert.Equal(t, stale, store.record(30).LastRefreshed)
}

func TestScheduler_restartDuringInFlightFetchRunsImmediatePass(t *testing.T) {
	t.Parallel()

	stale := epoch.Add(-3 * time.Hour)
	store := newMemStore(usProduct(1, stale), usProduct(2, stale), usProduct(3, stale))
	f := &stubFetcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	clk := clocktest.New(epoch)

	s := New(discardLogger(), store, f, clk, testConfig())
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	select {
	case <-f.entered:
	case <-time.After(wait):
		t.Fatal("fetch did not start")
	}

	s.Stop()
	s.Start(context.Background())
	assert.True(t, s.Status().IsRunning)
	close(f.release)

	require.Eventually(t, func() bool {
		return store.record(20).LastRefreshed.Equal(epoch) && store.record(30).LastRefreshed.Equal(epoch)
	}, wait, 10*time.Millisecond)

	require.True(t, clk.BlockUntil(1, wait))
	assert.Equal(t, 3, f.callCount())
	assert.Equal(t, epoch, store.record(10).LastRefreshed)
}

func TestScheduler_keepsFixedCadence(t *testing.T) {
	t.Parallel()

	stale := epoch.Add(-3 * time.Hour)
	store := newMemStore(usProduct(1, stale), usProduct(2, stale))
	f := &stubFetcher{}
	clk := clocktest.New(epoch)

	cfg := testConfig()
	cfg.StaleAfter = time.Hour
	cfg.ItemDelay = 5 * time.Minute

	s := New(discardLogger(), store, f, clk, cfg)
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.True(t, clk.BlockUntil(1, wait))
	clk.Advance(5 * time.Minute)

	require.Eventually(t, func() bool {
		return store.record(20).LastRefreshed.Equal(epoch.Add(5 * time.Minute))
	}, wait, 10*time.Millisecond)
	require.True(t, clk.BlockUntil(1, wait))

	// the second pass is due two hours after the first one started
	clk.Advance(2*time.Hour - 5*time.Minute)

	require.Eventually(t, func() bool {
		return store.record(10).LastRefreshed.Equal(epoch.Add(2 * time.Hour))
	}, wait, 10*time.Millisecond)
}

func TestScheduler_extendsPassLockWhileRunning(t *testing.T) {
	t.Parallel()

	store := newMemStore(usProduct(1, epoch), usProduct(2, epoch))
	clk := clocktest.New(epoch)
	locker := &countingLocker{extended: make(chan struct{}, 8)}

	cfg := testConfig()
	cfg.ItemDelay = 10 * time.Second
	cfg.LockTTL = 4 * time.Second

	s := New(discardLogger(), store, &stubFetcher{}, clk, cfg, WithLocker(locker))

	done := make(chan []models.RefreshOutcome)
	go func() {
		outcomes, _ := s.TriggerUpdate(context.Background(), nil)
		done <- outcomes
	}()

	// lock keeper and item pause
	require.True(t, clk.BlockUntil(2, wait))
	clk.Advance(2 * time.Second)

	select {
	case <-locker.extended:
	case <-time.After(wait):
		t.Fatal("lock was not extended")
	}

	require.True(t, clk.BlockUntil(2, wait))
	clk.Advance(8 * time.Second)

	select {
	case outcomes := <-done:
		assert.Len(t, outcomes, 2)
	case <-time.After(wait):
		t.Fatal("trigger did not return")
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()

	assert.Equal(t, 4*time.Second, locker.ttl)
	assert.GreaterOrEqual(t, locker.extends, 1)
	assert.True(t, locker.released)
}

func TestScheduler_stopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	s := New(discardLogger(), newMemStore(), &stubFetcher{}, clocktest.New(epoch), testConfig())
	s.Stop()
	assert.False(t, s.Status().IsRunning)
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestScheduler_pacesProductsWithClock(t *testing.T) {
	t.Parallel()

	stale := epoch.Add(-3 * time.Hour)
	store := newMemStore(usProduct(1, stale), usProduct(2, stale), usProduct(3, stale))
	f := &stubFetcher{}
	clk := clocktest.New(epoch)

	cfg := testConfig()
	cfg.ItemDelay = 5 * time.Second

	s := New(discardLogger(), store, f, clk, cfg)
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.True(t, clk.BlockUntil(1, wait))
	assert.Equal(t, 1, f.callCount())

	clk.Advance(5 * time.Second)
	require.True(t, clk.BlockUntil(1, wait))
	assert.Equal(t, 2, f.callCount())

	clk.Advance(5 * time.Second)
	require.True(t, clk.BlockUntil(1, wait))
	assert.Equal(t, 3, f.callCount())
	assert.Equal(t, epoch.Add(10*time.Second), store.record(30).LastRefreshed)
}

func TestScheduler_disabledSkipsScheduledPasses(t *testing.T) {
	t.Parallel()

	store := newMemStore(usProduct(1, epoch.Add(-3*time.Hour)))
	f := &stubFetcher{}
	clk := clocktest.New(epoch)

	cfg := testConfig()
	cfg.Enabled = false

	s := New(discardLogger(), store, f, clk, cfg)
	s.Start(context.Background())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.True(t, clk.BlockUntil(1, wait))
	assert.Zero(t, f.callCount())

	_, err := s.TriggerUpdate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCapabilityDisabled)
	assert.Zero(t, f.callCount())
}

func TestScheduler_TriggerUpdate(t *testing.T) {
	t.Parallel()

	fresh := epoch.Add(-time.Minute)
	store := newMemStore(usProduct(1, fresh), usProduct(2, fresh), usProduct(3, fresh))

	f := &stubFetcher{
		results: map[string]fetcher.Result{
			urlFor(10): {Price: 18.5, Currency: "USD", IsAvailable: true},
			urlFor(30): {Price: 20, Currency: "USD", IsAvailable: false},
		},
		errs: map[string]error{
			urlFor(20): fetcher.ErrFetchFailed,
		},
	}
	pub := &recordingPublisher{}
	rep := &recordingReporter{}

	s := New(discardLogger(), store, f, clocktest.New(epoch), testConfig(),
		WithPublisher(pub),
		WithReporter(rep),
	)

	outcomes, err := s.TriggerUpdate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.True(t, outcomes[0].Updated)
	assert.Equal(t, 20.0, outcomes[0].OldPrice)
	assert.Equal(t, 18.5, outcomes[0].NewPrice)

	assert.False(t, outcomes[1].Updated)
	assert.NotEmpty(t, outcomes[1].Error)
	assert.Equal(t, fresh, store.record(20).LastRefreshed)

	assert.True(t, outcomes[2].Updated)
	assert.False(t, store.record(30).IsAvailable)

	require.Len(t, pub.events, 2)
	assert.Equal(t, int64(10), pub.events[0].PriceRecordID)
	assert.Equal(t, int64(30), pub.events[1].PriceRecordID)

	require.Len(t, rep.reports, 1)
	assert.Equal(t, TriggerManual, rep.reports[0].Trigger)
	assert.Equal(t, 2, rep.reports[0].Updated())
	assert.Equal(t, 1, rep.reports[0].Failed())
	assert.False(t, rep.reports[0].Aborted)
}

func TestScheduler_TriggerUpdate_singleProduct(t *testing.T) {
	t.Parallel()

	store := newMemStore(usProduct(1, epoch), usProduct(2, epoch))
	f := &stubFetcher{}

	s := New(discardLogger(), store, f, clocktest.New(epoch.Add(time.Second)), testConfig())

	id := int64(2)
	outcomes, err := s.TriggerUpdate(context.Background(), &id)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, int64(2), outcomes[0].ProductID)
	assert.Equal(t, []string{urlFor(20)}, f.calls)

	missing := int64(404)
	_, err = s.TriggerUpdate(context.Background(), &missing)
	assert.ErrorIs(t, err, storage.ErrProductNotFound)
}

func TestScheduler_TriggerUpdate_emptyCatalogue(t *testing.T) {
	t.Parallel()

	s := New(discardLogger(), newMemStore(), &stubFetcher{}, clocktest.New(epoch), testConfig())

	outcomes, err := s.TriggerUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, outcomes)
	assert.Empty(t, outcomes)
}

func TestScheduler_TriggerUpdate_lockHeldElsewhere(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{}
	s := New(discardLogger(), newMemStore(usProduct(1, epoch)), f, clocktest.New(epoch), testConfig(),
		WithLocker(busyLocker{}),
	)

	_, err := s.TriggerUpdate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Zero(t, f.callCount())
}

func TestScheduler_rejectsSuspiciousResults(t *testing.T) {
	t.Parallel()

	store := newMemStore(usProduct(1, epoch), usProduct(2, epoch))
	f := &stubFetcher{
		results: map[string]fetcher.Result{
			urlFor(10): {Price: 26000, Currency: "KRW", IsAvailable: true},
			urlFor(20): {Price: 2000, Currency: "USD", IsAvailable: true},
		},
	}

	cfg := testConfig()
	cfg.MaxPriceChangeRatio = 10

	s := New(discardLogger(), store, f, clocktest.New(epoch.Add(time.Hour)), cfg)

	outcomes, err := s.TriggerUpdate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.False(t, outcomes[0].Updated)
	assert.Contains(t, outcomes[0].Error, ErrCurrencyMismatch.Error())
	assert.False(t, outcomes[1].Updated)
	assert.Contains(t, outcomes[1].Error, ErrImplausiblePrice.Error())

	assert.Equal(t, 20.0, store.record(10).Price)
	assert.Equal(t, 20.0, store.record(20).Price)
}

func TestScheduler_TriggerUpdate_respectsContext(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := newMemStore(usProduct(1, epoch), usProduct(2, epoch))
	s := New(discardLogger(), store, f, clocktest.New(epoch), testConfig())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan []models.RefreshOutcome)
	go func() {
		outcomes, _ := s.TriggerUpdate(ctx, nil)
		done <- outcomes
	}()

	<-f.entered
	cancel()
	close(f.release)

	select {
	case outcomes := <-done:
		assert.Len(t, outcomes, 1)
		assert.Equal(t, 1, f.callCount())
	case <-time.After(wait):
		t.Fatal("trigger did not return")
	}
}

func TestScheduler_observesMetrics(t *testing.T) {
	t.Parallel()

	m := &recordingReporter{}
	s := New(discardLogger(), newMemStore(usProduct(1, epoch)), &stubFetcher{}, clocktest.New(epoch), testConfig(),
		WithMetrics(m),
	)

	_, err := s.TriggerUpdate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, m.reports, 1)
	assert.Equal(t, 1, m.reports[0].Products)
}

func TestScheduler_Status(t *testing.T) {
	t.Parallel()

	s := New(discardLogger(), newMemStore(), &stubFetcher{}, clocktest.New(epoch), Config{Enabled: true})

	assert.Equal(t, Status{
		IsRunning:        false,
		UpdateIntervalMs: (2 * time.Hour).Milliseconds(),
		BatchSize:        5,
		ScrapingEnabled:  true,
	}, s.Status())
}

func TestPassReport_counts(t *testing.T) {
	t.Parallel()

	r := PassReport{
		StartedAt:  epoch,
		FinishedAt: epoch.Add(time.Minute),
		Outcomes: []models.RefreshOutcome{
			{Updated: true},
			{Updated: false, Error: "boom"},
			{Updated: true},
		},
	}

	assert.Equal(t, 2, r.Updated())
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, time.Minute, r.Duration())
}
