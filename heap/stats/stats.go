// Package stats provides a mem.StatsRecorder that keeps per-space counters
// and renders them as a report.
package stats

import (
	"fmt"
	"io"
	"slices"
	"sync/atomic"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/gcheap/heap/mem"
)

// numSpaces covers every mem.SpaceType value.
const numSpaces = int(mem.SpaceInternal) + 1

type counters struct {
	allocBytes, allocObjs atomic.Uint64
	freeBytes, freeObjs   atomic.Uint64
}

// MemStats counts allocation events per space type. It is safe for
// concurrent use and the zero value is ready.
type MemStats struct {
	spaces     [numSpaces]counters
	movedObjs  atomic.Uint64
	movedBytes atomic.Uint64
}

var _ mem.StatsRecorder = (*MemStats)(nil)

// New returns an empty MemStats.
func New() *MemStats { return &MemStats{} }

func (m *MemStats) slot(st mem.SpaceType) *counters {
	if int(st) >= numSpaces {
		st = mem.SpaceUndefined
	}
	return &m.spaces[st]
}

func (m *MemStats) RecordAllocateObject(size uint64, st mem.SpaceType) {
	c := m.slot(st)
	c.allocBytes.Add(size)
	c.allocObjs.Add(1)
}

func (m *MemStats) RecordFreeObject(size uint64, st mem.SpaceType) {
	c := m.slot(st)
	c.freeBytes.Add(size)
	c.freeObjs.Add(1)
}

func (m *MemStats) RecordMovedObjects(count, bytes uint64) {
	m.movedObjs.Add(count)
	m.movedBytes.Add(bytes)
}

// Reset zeroes every counter. Events recorded concurrently with Reset may
// be lost.
func (m *MemStats) Reset() {
	for i := range m.spaces {
		c := &m.spaces[i]
		c.allocBytes.Store(0)
		c.allocObjs.Store(0)
		c.freeBytes.Store(0)
		c.freeObjs.Store(0)
	}
	m.movedObjs.Store(0)
	m.movedBytes.Store(0)
}

// SpaceStats is the counters of one space type.
type SpaceStats struct {
	Space            string `json:"space"`
	AllocatedBytes   uint64 `json:"allocated_bytes"`
	AllocatedObjects uint64 `json:"allocated_objects"`
	FreedBytes       uint64 `json:"freed_bytes"`
	FreedObjects     uint64 `json:"freed_objects"`
}

// LiveBytes returns allocated minus freed bytes. Objects dropped in bulk
// (young space resets, evacuated regions) are never reported freed and stay
// counted here.
func (s SpaceStats) LiveBytes() uint64 {
	if s.FreedBytes > s.AllocatedBytes {
		return 0
	}
	return s.AllocatedBytes - s.FreedBytes
}

// Snapshot is a point-in-time copy of a MemStats.
type Snapshot struct {
	Spaces       []SpaceStats `json:"spaces"`
	MovedObjects uint64       `json:"moved_objects"`
	MovedBytes   uint64       `json:"moved_bytes"`
}

// Snapshot copies the counters. Space types with no events are left out.
// Counters are read one at a time, so a snapshot taken under load need not
// be consistent across spaces.
func (m *MemStats) Snapshot() Snapshot {
	var snap Snapshot
	for i := range m.spaces {
		c := &m.spaces[i]
		s := SpaceStats{
			Space:            mem.SpaceType(i).String(),
			AllocatedBytes:   c.allocBytes.Load(),
			AllocatedObjects: c.allocObjs.Load(),
			FreedBytes:       c.freeBytes.Load(),
			FreedObjects:     c.freeObjs.Load(),
		}
		if s.AllocatedObjects == 0 && s.FreedObjects == 0 {
			continue
		}
		snap.Spaces = append(snap.Spaces, s)
	}
	snap.MovedObjects = m.movedObjs.Load()
	snap.MovedBytes = m.movedBytes.Load()
	return snap
}

// Total sums every space.
func (s Snapshot) Total() SpaceStats {
	t := SpaceStats{Space: "total"}
	for _, sp := range s.Spaces {
		t.AllocatedBytes += sp.AllocatedBytes
		t.AllocatedObjects += sp.AllocatedObjects
		t.FreedBytes += sp.FreedBytes
		t.FreedObjects += sp.FreedObjects
	}
	return t
}

// WriteReport writes a table of the snapshot to w with numbers grouped for
// the given language.
func (s Snapshot) WriteReport(w io.Writer, tag language.Tag) error {
	p := message.NewPrinter(tag)
	rows := append(slices.Clone(s.Spaces), s.Total())

	if _, err := p.Fprintf(w, "%-12s %14s %12s %14s %12s %10s\n",
		"space", "alloc bytes", "alloc objs", "freed bytes", "freed objs", "live"); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := p.Fprintf(w, "%-12s %14d %12d %14d %12d %10s\n",
			r.Space, r.AllocatedBytes, r.AllocatedObjects, r.FreedBytes, r.FreedObjects, FormatBytes(r.LiveBytes()))
		if err != nil {
			return err
		}
	}
	if s.MovedObjects != 0 {
		if _, err := p.Fprintf(w, "moved: %d objects, %s\n", s.MovedObjects, FormatBytes(s.MovedBytes)); err != nil {
			return err
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
