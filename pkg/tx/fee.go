package tx

// feeRate is the proportional fee applied when the caller does not specify
// a fee explicitly (0.1% of the transferred amount).
const feeRate = 0.001

// DefaultFee computes the fee for a transaction of the given amount:
// max(minFee, amount * 0.1%).
func DefaultFee(amount, minFee float64) float64 {
	fee := amount * feeRate
	if fee < minFee {
		return minFee
	}
	return fee
}
