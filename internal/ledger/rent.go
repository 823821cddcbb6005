package ledger

// accountStorageOverhead is charged on top of the data length of every account.
const accountStorageOverhead = 128

type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionYears: 2}
}

// MinimumBalance is the deposit that keeps an account of the given data
// length alive indefinitely.
func (r Rent) MinimumBalance(dataLen int) uint64 {
	return (accountStorageOverhead + uint64(dataLen)) * r.LamportsPerByteYear * r.ExemptionYears
}
