package fetcher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	usdPattern = regexp.MustCompile(`\$\s*(\d+(?:,\d{3})*(?:\.\d{1,2})?)`)
	krwPattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)`)
)

var unavailableKeywords = []string{"out of stock", "sold out", "품절", "unavailable"}

// pricePattern pulls a number out of a price label.
type pricePattern struct {
	re       *regexp.Regexp
	currency string
}

var (
	usd = pricePattern{re: usdPattern, currency: "USD"}
	krw = pricePattern{re: krwPattern, currency: "KRW"}
)

func (p pricePattern) parse(text string) (float64, bool) {
	m := p.re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}

	return v, true
}

// selectorExtractor tries each selector in order and each pattern per selector.
type selectorExtractor struct {
	selectors []string
	patterns  []pricePattern
}

func (s selectorExtractor) Extract(doc *goquery.Document) (Result, error) {
	for _, sel := range s.selectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			continue
		}

		for _, p := range s.patterns {
			if v, ok := p.parse(text); ok {
				return Result{
					Price:       v,
					Currency:    p.currency,
					IsAvailable: available(doc),
				}, nil
			}
		}
	}

	return Result{}, ErrPriceNotFound
}

func Sephora() Extractor {
	return selectorExtractor{
		selectors: []string{`[data-at="price_current"]`, ".css-1g5t3xq", ".price", `[class*="price"]`},
		patterns:  []pricePattern{usd},
	}
}

func Ulta() Extractor {
	return selectorExtractor{
		selectors: []string{".ProductPricing", ".price", `[class*="price"]`, `[class*="Price"]`},
		patterns:  []pricePattern{usd},
	}
}

func OliveYoung() Extractor {
	return selectorExtractor{
		selectors: []string{".prd_price", ".price", `[class*="price"]`, ".won"},
		patterns:  []pricePattern{krw},
	}
}

// KoreanMarketplace covers Coupang and Gmarket listings, which show won prices
// in sale badges or emphasised text.
func KoreanMarketplace() Extractor {
	return selectorExtractor{
		selectors: []string{".price", ".sale", "strong", "em"},
		patterns:  []pricePattern{krw},
	}
}

// Generic is used for stores without a dedicated extractor.
func Generic() Extractor {
	return selectorExtractor{
		selectors: []string{
			".price", `[class*="price"]`, `[class*="Price"]`,
			".cost", `[class*="cost"]`, `[class*="Cost"]`,
			".amount", `[class*="amount"]`, `[class*="Amount"]`,
		},
		patterns: []pricePattern{usd, krw},
	}
}

func available(doc *goquery.Document) bool {
	body := strings.ToLower(doc.Find("body").Text())
	for _, kw := range unavailableKeywords {
		if strings.Contains(body, kw) {
			return false
		}
	}

	return true
}
