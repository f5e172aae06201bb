package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrNameNotFound = errors.New("product name not found on page")

// Listing is a product page scraped for catalogue creation.
type Listing struct {
	Result
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

var nameSelectors = []string{
	`[data-at="product_name"]`,
	".prod-title",
	".Text_ProductTitle",
	"h1",
}

// Scrape loads pageURL and reads the product name and image next to the price.
// Every failure wraps ErrFetchFailed.
func (r *Registry) Scrape(ctx context.Context, pageURL, store string) (Listing, error) {
	const op = "fetcher.Registry.Scrape"

	doc, res, err := r.load(ctx, pageURL, store)
	if err != nil {
		return Listing{}, fmt.Errorf("%s: %w", op, err)
	}

	name := productName(doc)
	if name == "" {
		return Listing{}, fmt.Errorf("%s: %w: %w", op, ErrFetchFailed, ErrNameNotFound)
	}

	return Listing{
		Result:   res,
		Name:     name,
		ImageURL: imageURL(doc, pageURL),
	}, nil
}

func productName(doc *goquery.Document) string {
	for _, sel := range nameSelectors {
		if name := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " "); name != "" {
			return name
		}
	}

	if name, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}

	return strings.TrimSpace(doc.Find("title").First().Text())
}

// imageURL prefers the Open Graph image and resolves relative sources against pageURL.
func imageURL(doc *goquery.Document, pageURL string) string {
	src, ok := doc.Find(`meta[property="og:image"]`).Attr("content")
	if !ok || strings.TrimSpace(src) == "" {
		src, ok = doc.Find("img[src]").First().Attr("src")
	}
	if !ok || strings.TrimSpace(src) == "" {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return ""
	}

	return base.ResolveReference(ref).String()
}
