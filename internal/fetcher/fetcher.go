// Package fetcher loads store product pages and extracts the listed price and availability.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrFetchFailed   = errors.New("fetch failed")
	ErrPriceNotFound = errors.New("price not found on page")
	ErrEmptyURL      = errors.New("source url is empty")
)

type Result struct {
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	IsAvailable bool    `json:"is_available"`
}

// Loader retrieves a page and hands it back as a parsed document.
type Loader interface {
	Load(ctx context.Context, pageURL string) (*goquery.Document, error)
}

type Extractor interface {
	Extract(doc *goquery.Document) (Result, error)
}

type ExtractorFunc func(doc *goquery.Document) (Result, error)

func (f ExtractorFunc) Extract(doc *goquery.Document) (Result, error) {
	return f(doc)
}

// Registry maps store identifiers to extraction strategies. A store name matches
// the longest registered key it contains, case-insensitively; unmatched stores use the fallback.
type Registry struct {
	loader   Loader
	fallback Extractor

	mu         sync.RWMutex
	extractors map[string]Extractor
}

func NewRegistry(loader Loader, fallback Extractor) *Registry {
	return &Registry{
		loader:     loader,
		fallback:   fallback,
		extractors: make(map[string]Extractor),
	}
}

// NewDefaultRegistry registers the stores the catalogue is seeded with.
func NewDefaultRegistry(loader Loader) *Registry {
	r := NewRegistry(loader, Generic())
	r.Register("sephora", Sephora())
	r.Register("ulta", Ulta())
	r.Register("olive young", OliveYoung())
	r.Register("oliveyoung", OliveYoung())
	r.Register("coupang", KoreanMarketplace())
	r.Register("gmarket", KoreanMarketplace())

	return r
}

func (r *Registry) Register(store string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors[normalizeStore(store)] = e
}

func (r *Registry) Stores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func (r *Registry) extractorFor(store string) Extractor {
	name := normalizeStore(store)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.extractors[name]; ok {
		return e
	}

	var (
		best    Extractor
		bestLen int
	)
	for key, e := range r.extractors {
		if strings.Contains(name, key) && len(key) > bestLen {
			best, bestLen = e, len(key)
		}
	}
	if best != nil {
		return best
	}

	return r.fallback
}

// Fetch loads sourceURL and runs the extractor registered for store.
// Every failure wraps ErrFetchFailed.
func (r *Registry) Fetch(ctx context.Context, sourceURL, store string) (Result, error) {
	const op = "fetcher.Registry.Fetch"

	_, res, err := r.load(ctx, sourceURL, store)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (r *Registry) load(ctx context.Context, pageURL, store string) (*goquery.Document, Result, error) {
	if strings.TrimSpace(pageURL) == "" {
		return nil, Result{}, fmt.Errorf("%w: %w", ErrFetchFailed, ErrEmptyURL)
	}

	doc, err := r.loader.Load(ctx, pageURL)
	if err != nil {
		return nil, Result{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	res, err := r.extractorFor(store).Extract(doc)
	if err != nil {
		return nil, Result{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	if res.Price <= 0 {
		return nil, Result{}, fmt.Errorf("%w: %w", ErrFetchFailed, ErrPriceNotFound)
	}

	return doc, res, nil
}

func normalizeStore(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
