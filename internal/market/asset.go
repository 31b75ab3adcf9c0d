package market

import (
	"sort"
	"strings"
)

type VolatilityClass string

const (
	ClassCrypto    VolatilityClass = "crypto"
	ClassMajor     VolatilityClass = "major"
	ClassMinor     VolatilityClass = "minor"
	ClassEquity    VolatilityClass = "equity"
	ClassCommodity VolatilityClass = "commodity"
)

// Factor scales every random move of the generator.
func (c VolatilityClass) Factor() float64 {
	switch c {
	case ClassCrypto:
		return 3
	case ClassMajor:
		return 0.1
	default:
		return 1
	}
}

// Asset describes something the generator can price. Decimals of 0 leaves
// prices unrounded.
type Asset struct {
	Symbol      string          `json:"symbol"`
	DisplayName string          `json:"displayName"`
	BasePrice   float64         `json:"basePrice"`
	Class       VolatilityClass `json:"class"`
	Decimals    int             `json:"decimals"`
}

type Catalog struct {
	assets   []Asset
	bySymbol map[string]Asset
}

func NewCatalog(assets []Asset) *Catalog {
	c := &Catalog{bySymbol: make(map[string]Asset, len(assets))}
	for _, asset := range assets {
		key := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if key == "" {
			continue
		}
		if _, exists := c.bySymbol[key]; exists {
			continue
		}
		c.bySymbol[key] = asset
		c.assets = append(c.assets, asset)
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog([]Asset{
		{Symbol: "XAUUSD", DisplayName: "Gold / US Dollar", BasePrice: 2650, Class: ClassCommodity, Decimals: 2},
		{Symbol: "BTCUSD", DisplayName: "Bitcoin / US Dollar", BasePrice: 97000, Class: ClassCrypto, Decimals: 2},
		{Symbol: "ETHUSD", DisplayName: "Ethereum / US Dollar", BasePrice: 3400, Class: ClassCrypto, Decimals: 2},
		{Symbol: "USDJPY", DisplayName: "US Dollar / Japanese Yen", BasePrice: 150, Class: ClassMajor, Decimals: 3},
		{Symbol: "USDTHB", DisplayName: "US Dollar / Thai Baht", BasePrice: 34.5, Class: ClassMinor, Decimals: 3},
		{Symbol: "SPX", DisplayName: "S&P 500 Index", BasePrice: 5900, Class: ClassEquity, Decimals: 2},
	})
}

// Lookup is case-insensitive on the symbol.
func (c *Catalog) Lookup(symbol string) (Asset, bool) {
	if c == nil {
		return Asset{}, false
	}
	asset, ok := c.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return asset, ok
}

func (c *Catalog) All() []Asset {
	if c == nil {
		return nil
	}
	out := append([]Asset(nil), c.assets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PairDecimals is the display precision for a currency pair: 3 when quoted in
// JPY or THB, 5 otherwise.
func PairDecimals(pair string) int {
	p := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "/", ""))
	if strings.HasSuffix(p, "JPY") || strings.HasSuffix(p, "THB") {
		return 3
	}
	return 5
}
