package region

import "strings"

// Flags describe what a region holds. Generation flags (Eden, Old) combine
// with the orthogonal ones.
type Flags uint32

const (
	FlagEden Flags = 1 << iota
	FlagOld
	FlagNonMovable
	FlagLargeObject
	FlagPinned
	FlagTLAB
	FlagMixedTLAB
	FlagReserved
	FlagPromoted
	FlagFree
	FlagInCollectionSet
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagEden, "eden"},
	{FlagOld, "old"},
	{FlagNonMovable, "nonmovable"},
	{FlagLargeObject, "large"},
	{FlagPinned, "pinned"},
	{FlagTLAB, "tlab"},
	{FlagMixedTLAB, "mixedtlab"},
	{FlagReserved, "reserved"},
	{FlagPromoted, "promoted"},
	{FlagFree, "free"},
	{FlagInCollectionSet, "cset"},
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// generation returns the generation bits of f.
func (f Flags) generation() Flags { return f & (FlagEden | FlagOld | FlagNonMovable) }
