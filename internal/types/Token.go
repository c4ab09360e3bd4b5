/*

Token legs of a pool, with the price data needed for impermanent-loss and volatility estimates.

*/

package types

import "time"

type Token struct {
	Symbol         string      `json:"symbol"`           // e.g., "ATOM"
	Decimals       int         `json:"decimals"`         // e.g., 6 for uatom
	PriceUSD       float64     `json:"price_usd"`        // e.g., 9.87
	PriceChange24h float64     `json:"price_change_24h"` // Fraction, e.g. 0.02 for +2%
	PriceData      []PriceData `json:"price_data,omitempty"`
	Volatility     float64     `json:"volatility,omitempty"` // Annualized, derived from PriceData
}

// PriceData holds historical price info
type PriceData struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}
