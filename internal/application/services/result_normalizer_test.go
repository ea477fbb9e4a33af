package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
)

func TestNormalize_DenseNumberingInArrivalOrder(t *testing.T) {
	n := services.NewResultNormalizer(10, "USD")
	listings := []entities.RawListing{
		{Title: "Expensive", Price: "$900"},
		{Title: "Cheap", Price: "$10"},
		{Title: "Middle", Price: "$300"},
	}

	products := n.Normalize("search-1", listings, time.Now())

	require.Len(t, products, 3)
	for i, p := range products {
		assert.Equal(t, i+1, p.SequenceNumber)
		assert.Equal(t, listings[i].Title, p.Title)
		assert.NotEmpty(t, p.ID)
	}
}

func TestNormalize_MalformedPriceDoesNotShiftNumbers(t *testing.T) {
	n := services.NewResultNormalizer(10, "USD")
	listings := []entities.RawListing{
		{Title: "A", Price: "$12.50"},
		{Title: "B", Price: "Contact for price"},
		{Title: "C", Price: "£1,299.00"},
		{Title: "", Price: ""},
	}

	products := n.Normalize("search-1", listings, time.Now())

	require.Len(t, products, 4)
	assert.Equal(t, int64(1250), products[0].PriceMinor)
	assert.False(t, products[0].PriceUnparsed)

	assert.Equal(t, 2, products[1].SequenceNumber)
	assert.Equal(t, int64(0), products[1].PriceMinor)
	assert.True(t, products[1].PriceUnparsed)

	assert.Equal(t, 3, products[2].SequenceNumber)
	assert.Equal(t, "C", products[2].Title)
	assert.Equal(t, int64(129900), products[2].PriceMinor)
	assert.Equal(t, "GBP", products[2].Currency)

	assert.Equal(t, 4, products[3].SequenceNumber)
	assert.Equal(t, "Untitled listing", products[3].Title)
}

func TestNormalize_CapsAtMaxResults(t *testing.T) {
	n := services.NewResultNormalizer(5, "USD")
	products := n.Normalize("search-1", deskListings(8), time.Now())

	require.Len(t, products, 5)
	assert.Equal(t, 5, products[4].SequenceNumber)
	assert.Equal(t, "Oak desk 5", products[4].Title)
}

func TestNormalize_NumericPriceValue(t *testing.T) {
	n := services.NewResultNormalizer(5, "EUR")
	products := n.Normalize("s", []entities.RawListing{
		{Title: "A", PriceValue: ptr(19.999)},
		{Title: "B", PriceValue: ptr(-1.0)},
	}, time.Now())

	assert.Equal(t, int64(2000), products[0].PriceMinor)
	assert.Equal(t, "EUR", products[0].Currency)
	assert.True(t, products[1].PriceUnparsed)
}

func TestParsePriceMinor(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"$200", 20000, true},
		{"USD 1,299.99", 129999, true},
		{"12,99 €", 1299, true},
		{"1,299", 129900, true},
		{"from $45.5 used", 4550, true},
		{"€1.299,99", 129999, true},
		{"1.299 €", 129900, true},
		{"1 299,99 €", 129999, true},
		{"1\u00a0299,99 €", 129999, true},
		{"$1,299,999", 129999900, true},
		{"0.125 BTC", 13, true},
		{"Contact for price", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := services.ParsePriceMinor(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
