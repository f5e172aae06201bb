package models

import "time"

// Market tags a price with the side of the border it was listed on.
type Market string

const (
	MarketDomestic Market = "domestic"
	MarketForeign  Market = "foreign"
)

func (m Market) Valid() bool {
	return m == MarketDomestic || m == MarketForeign
}

type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ProductCount int64  `json:"product_count"`
}

type Store struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Market  Market `json:"market"`
}

type Product struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Brand       string        `json:"brand,omitempty"`
	Description string        `json:"description,omitempty"`
	ImageURL    string        `json:"image_url,omitempty"`
	CategoryID  int64         `json:"category_id"`
	Category    *Category     `json:"category,omitempty"`
	Prices      []PriceRecord `json:"prices,omitempty"`
}

type PriceRecord struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Market        Market    `json:"market"`
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	Store         Store     `json:"store"`
	SourceURL     string    `json:"source_url"`
	IsAvailable   bool      `json:"is_available"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// PriceUpdate is the only mutation the refresh scheduler applies to a PriceRecord.
type PriceUpdate struct {
	Price         float64
	IsAvailable   bool
	LastRefreshed time.Time
}

// ProductFilter narrows findProducts. A zero Limit means no limit.
type ProductFilter struct {
	CategoryID *int64
	Search     string
	Limit      int
}

// ComparisonResult is derived on every read and never stored.
type ComparisonResult struct {
	Product               Product     `json:"product"`
	Domestic              PriceRecord `json:"domestic"`
	Foreign               PriceRecord `json:"foreign"`
	DomesticPrice         float64     `json:"domestic_price"`
	ForeignPrice          float64     `json:"foreign_price"`
	ConvertedForeignPrice float64     `json:"converted_foreign_price"`
	SavingsAbsolute       float64     `json:"savings_absolute"`
	SavingsPercentage     float64     `json:"savings_percentage"`
	CheaperMarket         Market      `json:"cheaper_market"`
}

// ProductDetail carries a product with its comparison when it has one.
type ProductDetail struct {
	Product    Product           `json:"product"`
	Comparison *ComparisonResult `json:"comparison,omitempty"`
}

type RefreshOutcome struct {
	ProductID     int64   `json:"product_id"`
	ProductName   string  `json:"product"`
	PriceRecordID int64   `json:"price_record_id"`
	Store         string  `json:"store"`
	Market        Market  `json:"market"`
	OldPrice      float64 `json:"old_price"`
	NewPrice      float64 `json:"new_price,omitempty"`
	Updated       bool    `json:"updated"`
	Error         string  `json:"error,omitempty"`
}

type PriceChangedEvent struct {
	ProductID     int64     `json:"product_id"`
	PriceRecordID int64     `json:"price_record_id"`
	Store         string    `json:"store"`
	Market        Market    `json:"market"`
	OldPrice      float64   `json:"old_price"`
	NewPrice      float64   `json:"new_price"`
	Currency      string    `json:"currency"`
	IsAvailable   bool      `json:"is_available"`
	RefreshedAt   time.Time `json:"refreshed_at"`
}

// RefreshRequest is consumed from the refresh queue. A nil ProductID asks for every product.
type RefreshRequest struct {
	ProductID *int64 `json:"product_id,omitempty"`
}

// NewProduct is the admin payload for manual catalogue entries.
type NewProduct struct {
	Category    string
	Name        string
	Brand       string
	Description string
	ImageURL    string
	Domestic    *NewPrice
	Foreign     *NewPrice
}

type NewPrice struct {
	StoreName    string
	StoreWebsite string
	SourceURL    string
	Price        float64
	Currency     string
	IsAvailable  bool
}
