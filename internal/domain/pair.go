package domain

import "sort"

// Pair describes one tradable pair: its protocol index, Pyth price-feed id,
// and the platform's leverage bound for the pair.
type Pair struct {
	Name        string  // e.g. "ETH/USD"
	Index       int     // pairIndex in the trading contract
	FeedID      string  // Pyth price feed id (0x-prefixed hex)
	MaxLeverage float64
}

// PairTable is the configured set of tradable pairs keyed by name.
type PairTable map[string]Pair

// Names returns the pair names sorted alphabetically.
func (pt PairTable) Names() []string {
	names := make([]string, 0, len(pt))
	for name := range pt {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
