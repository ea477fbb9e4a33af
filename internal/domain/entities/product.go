package entities

import "time"

// Product is one normalized result. SequenceNumber is bound at normalization
// time and is the voice reference for the product; it is never derived from
// list position.
type Product struct {
	ID              string    `json:"id" db:"product_id"`
	SearchRequestID string    `json:"search_request_id" db:"search_id"`
	SequenceNumber  int       `json:"sequence_number" db:"sequence_number"`
	Title           string    `json:"title" db:"title"`
	PriceMinor      int64     `json:"price_minor" db:"price_minor"`
	Currency        string    `json:"currency" db:"currency"`
	PriceUnparsed   bool      `json:"price_unparsed,omitempty" db:"price_unparsed"`
	ImageURL        string    `json:"image_url,omitempty" db:"image_url"`
	Source          string    `json:"source" db:"source"`
	URL             string    `json:"url,omitempty" db:"url"`
	Features        []string  `json:"features,omitempty" db:"features"`
	Rating          *float64  `json:"rating,omitempty" db:"rating"`
	ReviewCount     *int      `json:"review_count,omitempty" db:"review_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// DisplayPrice returns the price in major currency units
func (p *Product) DisplayPrice() float64 {
	return float64(p.PriceMinor) / 100
}

// RawListing is one provider listing after edge validation. Price keeps the
// provider's representation; PriceValue is set when the provider sent a number.
type RawListing struct {
	Title       string
	Price       string
	PriceValue  *float64
	Currency    string
	ImageURL    string
	Source      string
	URL         string
	Features    []string
	Rating      *float64
	ReviewCount *int
}
