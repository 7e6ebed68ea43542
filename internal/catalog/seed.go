package catalog

import (
	"fmt"
	"os"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

// Prices are strings in the file so they never pass through float64.
type seedProduct struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Price         string `yaml:"price"`
	OriginalPrice string `yaml:"original_price"`
	Stock         int32  `yaml:"stock"`
}

func LoadSeedFile(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]domain.Product, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	products := make([]domain.Product, 0, len(f.Products))
	for _, sp := range f.Products {
		price, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return nil, fmt.Errorf("product %d: invalid price %q: %w", sp.ID, sp.Price, err)
		}

		original := decimal.Zero
		if sp.OriginalPrice != "" {
			if original, err = decimal.NewFromString(sp.OriginalPrice); err != nil {
				return nil, fmt.Errorf("product %d: invalid original_price %q: %w", sp.ID, sp.OriginalPrice, err)
			}
		}

		products = append(products, domain.Product{
			ID:            sp.ID,
			Name:          sp.Name,
			Description:   sp.Description,
			Price:         price,
			OriginalPrice: original,
			Stock:         sp.Stock,
		})
	}
	return products, nil
}

// DefaultProducts is the catalog used when no seed file is configured.
func DefaultProducts() []domain.Product {
	return []domain.Product{
		{
			ID:            1,
			Name:          "Laptop",
			Description:   "15-inch laptop",
			Price:         decimal.RequireFromString("899.99"),
			OriginalPrice: decimal.RequireFromString("999.99"),
			Stock:         10,
		},
		{
			ID:            2,
			Name:          "Mouse",
			Description:   "Wireless mouse",
			Price:         decimal.RequireFromString("25.00"),
			OriginalPrice: decimal.Zero,
			Stock:         5,
		},
		{
			ID:            3,
			Name:          "Keyboard",
			Description:   "Mechanical keyboard",
			Price:         decimal.RequireFromString("79.99"),
			OriginalPrice: decimal.RequireFromString("79.99"),
			Stock:         0,
		},
	}
}
