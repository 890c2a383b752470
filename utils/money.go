package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents maps a currency to the number of minor-unit digits
var currencyExponents = map[string]int32{
	"USD":  2,
	"EUR":  2,
	"LBP":  0,
	"USDC": 6,
	"USDT": 6,
}

// CurrencyExponent returns the minor-unit digits of a currency, 2 when unknown
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// MinorUnitsToDecimal converts a stored amount to its major-unit value
func MinorUnitsToDecimal(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}

// DecimalToMinorUnits converts a major-unit value to minor units, truncating sub-unit dust
func DecimalToMinorUnits(value decimal.Decimal, currency string) int64 {
	return value.Shift(CurrencyExponent(currency)).Truncate(0).IntPart()
}

// FormatMinorUnits renders an amount for display, e.g. 12345 USD -> "123.45 USD"
func FormatMinorUnits(amount int64, currency string) string {
	exp := CurrencyExponent(currency)
	return MinorUnitsToDecimal(amount, currency).StringFixed(exp) + " " + strings.ToUpper(currency)
}
