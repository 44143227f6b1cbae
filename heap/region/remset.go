package region

import (
	"cmp"
	"slices"
	"sync"

	"github.com/joshuapare/gcheap/heap/mem"
)

// CardSize is the granularity at which a remembered set records references.
const CardSize = 512

// RemSet records which cards of other regions hold references into the
// owning region. It is safe for concurrent use.
type RemSet struct {
	mu    sync.Mutex
	cards map[*Region]map[mem.Addr]struct{}
}

// NewRemSet returns an empty remembered set.
func NewRemSet() *RemSet {
	return &RemSet{cards: make(map[*Region]map[mem.Addr]struct{})}
}

// AddRef records that the object field at addr, inside from, references the
// owning region.
func (rs *RemSet) AddRef(from *Region, addr mem.Addr) {
	card := addr.AlignDown(CardSize)
	rs.mu.Lock()
	set, ok := rs.cards[from]
	if !ok {
		set = make(map[mem.Addr]struct{})
		rs.cards[from] = set
	}
	set[card] = struct{}{}
	rs.mu.Unlock()
}

// RemoveRefsFrom drops every card recorded for from.
func (rs *RemSet) RemoveRefsFrom(from *Region) {
	rs.mu.Lock()
	delete(rs.cards, from)
	rs.mu.Unlock()
}

// Clear drops everything.
func (rs *RemSet) Clear() {
	rs.mu.Lock()
	clear(rs.cards)
	rs.mu.Unlock()
}

// Size returns the number of recorded cards.
func (rs *RemSet) Size() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := 0
	for _, set := range rs.cards {
		n += len(set)
	}
	return n
}

// Regions returns the referencing regions in address order.
func (rs *RemSet) Regions() []*Region {
	rs.mu.Lock()
	regions := make([]*Region, 0, len(rs.cards))
	for r := range rs.cards {
		regions = append(regions, r)
	}
	rs.mu.Unlock()
	slices.SortFunc(regions, func(a, b *Region) int { return cmpAddr(a.begin, b.begin) })
	return regions
}

// IterateOverCards calls fn for every recorded card, grouped by region and
// in address order, with the card clipped to the region's Top.
func (rs *RemSet) IterateOverCards(fn func(from *Region, card mem.MemRange)) {
	for _, r := range rs.Regions() {
		rs.mu.Lock()
		cards := make([]mem.Addr, 0, len(rs.cards[r]))
		for c := range rs.cards[r] {
			cards = append(cards, c)
		}
		rs.mu.Unlock()
		slices.Sort(cards)
		top := r.Top()
		for _, c := range cards {
			if c >= top {
				continue
			}
			fn(r, mem.MemRange{Start: c, End: min(c.Add(CardSize), top)})
		}
	}
}

// Merge adds every card of other to rs.
func (rs *RemSet) Merge(other *RemSet) {
	if rs == other {
		return
	}
	other.mu.Lock()
	snapshot := make(map[*Region][]mem.Addr, len(other.cards))
	for r, set := range other.cards {
		for c := range set {
			snapshot[r] = append(snapshot[r], c)
		}
	}
	other.mu.Unlock()
	for r, cards := range snapshot {
		for _, c := range cards {
			rs.AddRef(r, c)
		}
	}
}


func cmpAddr(x, y mem.Addr) int { return cmp.Compare(x, y) }
