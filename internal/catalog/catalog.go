// Package catalog holds the read-only product list referenced by cart,
// favorite and order rows. Products are never persisted by the store.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

//go:embed products.json
var productsJSON []byte

// Product is one item for sale
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
}

// Catalog is an immutable, ordered product list
type Catalog struct {
	products []Product
	byID     map[string]int
}

// New builds a catalog from products. Later duplicates of an id are ignored.
func New(products []Product) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(products))}
	for _, p := range products {
		if _, dup := c.byID[p.ID]; dup {
			continue
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c
}

// Load parses a JSON product list
func Load(data []byte) (*Catalog, error) {
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for i, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("catalog entry %s has a negative price", p.ID)
		}
	}
	return New(products), nil
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := Load(productsJSON)
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the embedded storefront catalog
func Default() *Catalog {
	return defaultCatalog()
}

// All returns every product in catalog order
func (c *Catalog) All() []Product {
	return append([]Product(nil), c.products...)
}

// Get looks up a product by id
func (c *Catalog) Get(id string) (Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

// Len returns the number of products
func (c *Catalog) Len() int {
	return len(c.products)
}

// ByCategory returns the products in category; "" or "all" returns everything
func (c *Catalog) ByCategory(category string) []Product {
	if category == "" || strings.EqualFold(category, "all") {
		return c.All()
	}
	var out []Product
	for _, p := range c.products {
		if strings.EqualFold(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.products {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// Search matches term case-insensitively against name, description and category
func (c *Catalog) Search(term string) []Product {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return c.All()
	}
	var out []Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.Description), term) ||
			strings.Contains(strings.ToLower(p.Category), term) {
			out = append(out, p)
		}
	}
	return out
}
