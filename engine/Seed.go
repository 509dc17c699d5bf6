package engine

// SlotKey derives the random key of slot i of a batch from a root
// seed. Keys of distinct slots are independent, and the key of slot 0
// is the one a Scalar engine uses for the same seed.
func SlotKey(seed uint64, i int) uint64 {
	return splitmix(seed + 0x9e3779b97f4a7c15*uint64(i+1))
}

// NextKey derives the key used for the episode following the one
// started with key
func NextKey(key uint64) uint64 {
	return splitmix(key ^ 0xd1b54a32d192ed03)
}

func splitmix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
