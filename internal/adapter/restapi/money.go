package restapi

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money renders d as a JSON number with two decimal places.
func Money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// ParseMoney parses a provider amount that may arrive as a number or a string.
// Empty input is zero.
func ParseMoney(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` {
		return decimal.Zero, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %s: %w", raw, err)
	}
	return d, nil
}
