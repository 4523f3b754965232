// Package assets builds the lookup used to pick a ticker: base symbol to
// quote symbol to the exchanges trading that pair.
package assets

import (
	"slices"
	"sort"
	"strings"

	"coin/internal/exchange"
	"coin/internal/model"
)

// Lookup resolves exchange codes. *exchange.Registry implements it.
type Lookup interface {
	FindByCode(code string) (exchange.Exchange, bool)
}

// Graph maps base → quote → exchanges, each exchange list sorted by code
// and free of duplicates. The exchanges are owned by the registry.
type Graph map[string]map[string][]exchange.Exchange

// Build creates a graph from catalog. Codes the lookup does not know are
// skipped. Build has no side effects; callers publish the result.
func Build(catalog model.Catalog, lookup Lookup) Graph {
	codes := make([]string, 0, len(catalog))
	for code := range catalog {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	g := make(Graph)
	for _, code := range codes {
		ex, ok := lookup.FindByCode(code)
		if !ok {
			continue
		}
		for _, pair := range catalog[code] {
			g.add(pair.Base, pair.Quote, ex)
		}
	}
	return g
}

func (g Graph) add(base, quote string, ex exchange.Exchange) {
	quotes, ok := g[base]
	if !ok {
		quotes = make(map[string][]exchange.Exchange)
		g[base] = quotes
	}
	list := quotes[quote]
	i, found := slices.BinarySearchFunc(list, ex.Code(), func(e exchange.Exchange, code string) int {
		return strings.Compare(e.Code(), code)
	})
	if found {
		return
	}
	quotes[quote] = slices.Insert(list, i, ex)
}

// Bases returns the base symbols in sorted order.
func (g Graph) Bases() []string {
	bases := make([]string, 0, len(g))
	for base := range g {
		bases = append(bases, base)
	}
	sort.Strings(bases)
	return bases
}

// Quotes returns the quote symbols traded against base in sorted order.
func (g Graph) Quotes(base string) []string {
	quotes := make([]string, 0, len(g[base]))
	for quote := range g[base] {
		quotes = append(quotes, quote)
	}
	sort.Strings(quotes)
	return quotes
}

// Exchanges returns the exchanges trading base/quote.
func (g Graph) Exchanges(base, quote string) []exchange.Exchange {
	return slices.Clone(g[base][quote])
}

// Supports reports whether the exchange with code trades base/quote.
func (g Graph) Supports(base, quote, code string) bool {
	for _, ex := range g[base][quote] {
		if strings.EqualFold(ex.Code(), code) {
			return true
		}
	}
	return false
}

// Len counts the (base, quote) combinations in the graph.
func (g Graph) Len() int {
	n := 0
	for _, quotes := range g {
		n += len(quotes)
	}
	return n
}
