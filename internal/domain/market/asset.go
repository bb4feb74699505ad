package market

import (
	"regexp"
	"strings"
)

// AssetType is the asset-class tag used to route symbols to quote sources
type AssetType string

const (
	AssetCrypto AssetType = "CRYPTO"
	AssetForex  AssetType = "FOREX"
	AssetStock  AssetType = "STOCK"
)

// AllAssetTypes lists the classes in display order
var AllAssetTypes = []AssetType{AssetCrypto, AssetForex, AssetStock}

// Valid checks if asset type is valid
func (a AssetType) Valid() bool {
	switch a {
	case AssetCrypto, AssetForex, AssetStock:
		return true
	}
	return false
}

// String returns string representation
func (a AssetType) String() string {
	return string(a)
}

// Color returns the fixed display color of the class
func (a AssetType) Color() string {
	switch a {
	case AssetCrypto:
		return "#f7931a"
	case AssetForex:
		return "#3b82f6"
	case AssetStock:
		return "#10b981"
	}
	return "#6b7280"
}

var (
	cryptoQuoteSuffixes = []string{"USDT", "BUSD"}
	majorCoins          = map[string]struct{}{
		"BTC": {}, "ETH": {}, "SOL": {}, "XRP": {}, "BNB": {},
	}
	fiatPrefixes = []string{"USD", "EUR", "GBP"}
	fiatSuffixes = []string{"USD"}
)

// Classify maps a raw symbol to its asset class. It is a lexical heuristic:
// a six-letter equity ticker starting or ending with a fiat code is reported as FOREX.
func Classify(symbol string) AssetType {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	for _, suffix := range cryptoQuoteSuffixes {
		if strings.HasSuffix(s, suffix) {
			return AssetCrypto
		}
	}
	if _, ok := majorCoins[s]; ok {
		return AssetCrypto
	}

	if strings.Contains(s, "/") {
		return AssetForex
	}
	if len(s) == 6 && isLetters(s) {
		for _, p := range fiatPrefixes {
			if strings.HasPrefix(s, p) {
				return AssetForex
			}
		}
		for _, p := range fiatSuffixes {
			if strings.HasSuffix(s, p) {
				return AssetForex
			}
		}
	}

	return AssetStock
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Partition groups symbols by class, preserving input order within each class
func Partition(symbols []string) map[AssetType][]string {
	out := make(map[AssetType][]string, len(AllAssetTypes))
	for _, s := range symbols {
		t := Classify(s)
		out[t] = append(out[t], s)
	}
	return out
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,12}$`)

// NormalizeSymbol trims and uppercases a user-entered symbol
func NormalizeSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// IsValidSymbol reports whether an already-normalized symbol matches the watchlist pattern
func IsValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}
