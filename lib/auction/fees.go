package auction

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SplitFee splits amount into the seller's net proceeds and the platform fee
// for a fee rate in percent. The fee is rounded down, so net+fee == amount.
func SplitFee(amount, rate uint64) (net, fee uint64) {
	amt := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0)
	r := decimal.NewFromBigInt(new(big.Int).SetUint64(rate), 0)
	fee = amt.Mul(r).Div(hundred).Floor().BigInt().Uint64()
	return amount - fee, fee
}
