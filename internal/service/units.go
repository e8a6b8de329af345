package service

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// etherDecimals is the number of wei digits in one ether.
const etherDecimals = 18

// EtherToWei converts a display price to wei. The price must be positive
// and representable in whole wei.
func EtherToWei(ether decimal.Decimal) (*big.Int, error) {
	if !ether.IsPositive() {
		return nil, fmt.Errorf("%w: price %s must be positive", domain.ErrInvalidOffer, ether)
	}
	wei := ether.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("%w: price %s is finer than 1 wei", domain.ErrInvalidOffer, ether)
	}
	return wei.BigInt(), nil
}

// WeiToEther converts wei to a display price.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -etherDecimals)
}

// ParseEther parses a user supplied ether amount such as "1.5".
func ParseEther(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q: %v", domain.ErrInvalidOffer, s, err)
	}
	return d, nil
}
