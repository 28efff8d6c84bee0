package config

import (
	"fmt"
	"math/big"
)

// ParseWei parses a decimal wei string from configuration. Amounts are
// configured as strings because reserve-scale values exceed int64.
func ParseWei(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative wei amount %q", value)
	}
	return amount, nil
}
