package tx

// FeePerKB converts a fee paid for size bytes into a rate per 1000 bytes.
// A zero size yields a zero rate.
func FeePerKB(fee int64, size int64) int64 {
	if size <= 0 {
		return 0
	}
	return fee * 1000 / size
}
