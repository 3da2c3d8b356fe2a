package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrUnknownProduct = errors.New("unknown product")

type ProductType string

const (
	ProductStars   ProductType = "stars"
	ProductPremium ProductType = "premium"
	ProductAds     ProductType = "ads"
)

// Product is a parsed product descriptor such as "50 stars" or "3 months premium".
type Product struct {
	Type     ProductType
	Quantity int
}

var digitRun = regexp.MustCompile(`\d+`)

func ParseProduct(descriptor string) (Product, error) {
	lower := strings.ToLower(descriptor)

	var typ ProductType
	switch {
	case strings.Contains(lower, "stars") || strings.Contains(descriptor, "⭐"):
		typ = ProductStars
	case strings.Contains(lower, "premium"):
		typ = ProductPremium
	case strings.Contains(lower, "ads"):
		typ = ProductAds
	default:
		return Product{}, fmt.Errorf("%w: %q", ErrUnknownProduct, descriptor)
	}

	// "1 000 stars" and "1,000 stars" both mean 1000.
	run := strings.Join(digitRun.FindAllString(descriptor, -1), "")
	if run == "" {
		return Product{}, fmt.Errorf("%w: no quantity in %q", ErrUnknownProduct, descriptor)
	}
	qty, err := strconv.Atoi(run)
	if err != nil || qty <= 0 {
		return Product{}, fmt.Errorf("%w: bad quantity in %q", ErrUnknownProduct, descriptor)
	}

	return Product{Type: typ, Quantity: qty}, nil
}

// Params returns the provider request field carrying the quantity:
// stars are counted, premium is bought in months, ads by spend amount.
func (p Product) Params() map[string]string {
	v := strconv.Itoa(p.Quantity)
	switch p.Type {
	case ProductPremium:
		return map[string]string{"months": v}
	case ProductAds:
		return map[string]string{"amount": v}
	default:
		return map[string]string{"quantity": v}
	}
}
