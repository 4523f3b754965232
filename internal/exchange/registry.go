package exchange

import (
	"fmt"
	"slices"
	"strings"

	"coin/internal/model"
)

// Registry holds the loaded exchanges sorted by code. It is read-only after
// construction; only the catalogs inside the exchanges change.
type Registry struct {
	exchanges []Exchange
	byCode    map[string]Exchange
}

// NewRegistry sorts exchanges by code and indexes them.
func NewRegistry(exchanges ...Exchange) (*Registry, error) {
	r := &Registry{
		exchanges: slices.Clone(exchanges),
		byCode:    make(map[string]Exchange, len(exchanges)),
	}
	slices.SortFunc(r.exchanges, func(a, b Exchange) int {
		return strings.Compare(a.Code(), b.Code())
	})

	for _, ex := range r.exchanges {
		code := strings.ToLower(ex.Code())
		if code == "" {
			return nil, fmt.Errorf("exchange with empty code")
		}
		if _, ok := r.byCode[code]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
		}
		r.byCode[code] = ex
	}
	return r, nil
}

// FindByCode looks an exchange up by code, ignoring case.
func (r *Registry) FindByCode(code string) (Exchange, bool) {
	ex, ok := r.byCode[strings.ToLower(code)]
	return ex, ok
}

// Exchanges returns the exchanges sorted by code.
func (r *Registry) Exchanges() []Exchange {
	return slices.Clone(r.exchanges)
}

func (r *Registry) Len() int {
	return len(r.exchanges)
}

// Catalog snapshots the asset pairs of every exchange.
func (r *Registry) Catalog() model.Catalog {
	catalog := make(model.Catalog, len(r.exchanges))
	for _, ex := range r.exchanges {
		catalog[ex.Code()] = ex.AssetPairs()
	}
	return catalog
}

// Seed preloads stored catalogs into exchanges that accept it. Exchanges
// missing from catalog or with an empty entry are left alone.
func (r *Registry) Seed(catalog model.Catalog) int {
	seeded := 0
	for code, pairs := range catalog {
		ex, ok := r.FindByCode(code)
		if !ok || len(pairs) == 0 {
			continue
		}
		if s, ok := ex.(Seeder); ok {
			s.Seed(pairs)
			seeded++
		}
	}
	return seeded
}

// StopAll stops every exchange.
func (r *Registry) StopAll() {
	for _, ex := range r.exchanges {
		ex.Stop()
	}
}
