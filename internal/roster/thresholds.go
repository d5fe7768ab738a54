package roster

// AtLeastOneThirdOfTotal returns the smallest weight that is at least a third of total.
func AtLeastOneThirdOfTotal(total uint64) uint64 {
	return total/3 + min(total%3, 1)
}

// MoreThanTwoThirdsOfTotal returns the smallest weight strictly above two thirds of total.
func MoreThanTwoThirdsOfTotal(total uint64) uint64 {
	return total/3*2 + (total%3)*2/3 + 1
}

// MajorityOfTotal returns the smallest weight strictly above half of total.
func MajorityOfTotal(total uint64) uint64 {
	return total/2 + 1
}

// PartySize returns the number of hinTS parties for a roster of n nodes:
// the smallest power of two strictly greater than n+1.
func PartySize(n int) int {
	size := 1
	for size <= n+1 {
		size <<= 1
	}

	return size
}
