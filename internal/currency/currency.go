// Package currency holds the static currency registry and the conversion
// helpers between major and minor units. All amount math in the payment
// pipeline routes through this table; minor-unit granularity differs per
// currency (KWD, BHD and OMR carry three decimals).
package currency

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Config describes a single supported currency.
type Config struct {
	Code         string
	Symbol       string
	Decimals     int
	SmallestUnit int64
}

var registry = map[string]Config{
	"USD": {Code: "USD", Symbol: "$", Decimals: 2, SmallestUnit: 100},
	"EUR": {Code: "EUR", Symbol: "€", Decimals: 2, SmallestUnit: 100},
	"GBP": {Code: "GBP", Symbol: "£", Decimals: 2, SmallestUnit: 100},
	"EGP": {Code: "EGP", Symbol: "E£", Decimals: 2, SmallestUnit: 100},
	"SAR": {Code: "SAR", Symbol: "SR", Decimals: 2, SmallestUnit: 100},
	"AED": {Code: "AED", Symbol: "AED", Decimals: 2, SmallestUnit: 100},
	"QAR": {Code: "QAR", Symbol: "QR", Decimals: 2, SmallestUnit: 100},
	"KWD": {Code: "KWD", Symbol: "KD", Decimals: 3, SmallestUnit: 1000},
	"BHD": {Code: "BHD", Symbol: "BD", Decimals: 3, SmallestUnit: 1000},
	"OMR": {Code: "OMR", Symbol: "OMR", Decimals: 3, SmallestUnit: 1000},
}

// ErrUnknownCurrency is returned for codes outside the registry.
type ErrUnknownCurrency struct {
	Code string
}

func (e ErrUnknownCurrency) Error() string {
	return fmt.Sprintf("unknown currency %q", e.Code)
}

// Lookup returns the configuration for an ISO-4217 code.
func Lookup(code string) (Config, error) {
	cfg, ok := registry[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Config{}, ErrUnknownCurrency{Code: code}
	}
	return cfg, nil
}

// Supported returns the registered currency codes in stable order.
func Supported() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ToSmallestUnit converts a major-unit amount into the currency's integer
// minor unit, rounding half away from zero.
func ToSmallestUnit(amount float64, code string) (int64, error) {
	cfg, err := Lookup(code)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(amount * float64(cfg.SmallestUnit))), nil
}

// FromSmallestUnit is the inverse of ToSmallestUnit.
func FromSmallestUnit(minor int64, code string) (float64, error) {
	cfg, err := Lookup(code)
	if err != nil {
		return 0, err
	}
	return float64(minor) / float64(cfg.SmallestUnit), nil
}

// Format renders a minor-unit amount with the currency's symbol and
// declared decimal count, e.g. Format(1050, "USD") == "$10.50".
func Format(minor int64, code string) (string, error) {
	cfg, err := Lookup(code)
	if err != nil {
		return "", err
	}
	major := float64(minor) / float64(cfg.SmallestUnit)
	return fmt.Sprintf("%s%.*f", cfg.Symbol, cfg.Decimals, major), nil
}
