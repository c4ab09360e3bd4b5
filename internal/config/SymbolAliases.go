/*

Sentiment providers key scores by a canonical ticker. Wrapped and bridged assets are
listed on-chain under a different symbol, so they are mapped here before lookup.

If a symbol has no entry it is used as-is, upper-cased.

*/

package config

import "strings"

var (
	SymbolAliases = map[string]string{
		"WETH":    "ETH",
		"WBTC":    "BTC",
		"USDC.E":  "USDC",
		"AXLUSDC": "USDC",
		"STATOM":  "ATOM",
		"STTIA":   "TIA",
		"STOSMO":  "OSMO",

		"WRAPPED BITCOIN":  "BTC", // Testnet naming
		"WRAPPED ETHEREUM": "ETH", // Testnet naming
	}
)

// CanonicalSymbol returns the ticker under which sentiment is published.
func CanonicalSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if alias, ok := SymbolAliases[s]; ok {
		return alias
	}
	return s
}
