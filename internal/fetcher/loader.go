package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
)

var ErrEmptyPage = errors.New("empty page")

// CollyLoader fetches pages over plain HTTP.
type CollyLoader struct {
	UserAgent string
	Timeout   time.Duration
}

func NewCollyLoader(userAgent string, timeout time.Duration) *CollyLoader {
	return &CollyLoader{
		UserAgent: userAgent,
		Timeout:   timeout,
	}
}

func (l *CollyLoader) Load(ctx context.Context, pageURL string) (*goquery.Document, error) {
	const op = "fetcher.CollyLoader.Load"

	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
	}
	if l.UserAgent != "" {
		opts = append(opts, colly.UserAgent(l.UserAgent))
	}

	c := colly.NewCollector(opts...)
	if l.Timeout > 0 {
		c.SetRequestTimeout(l.Timeout)
	}

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPage)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse HTML: %w", op, err)
	}

	return doc, nil
}

// BrowserLoader renders pages in headless Chrome for stores that build prices client-side.
type BrowserLoader struct {
	UserAgent string
	Timeout   time.Duration
}

func NewBrowserLoader(userAgent string, timeout time.Duration) *BrowserLoader {
	return &BrowserLoader{
		UserAgent: userAgent,
		Timeout:   timeout,
	}
}

func (l *BrowserLoader) Load(ctx context.Context, pageURL string) (*goquery.Document, error) {
	const op = "fetcher.BrowserLoader.Load"

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(l.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if l.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		browserCtx, cancelTimeout = context.WithTimeout(browserCtx, l.Timeout)
		defer cancelTimeout()
	}

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: chromedp execution failed: %w", op, err)
	}

	if html == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPage)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse HTML: %w", op, err)
	}

	return doc, nil
}
