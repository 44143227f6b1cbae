package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/objalloc"
	"github.com/joshuapare/gcheap/heap/stats"
	"github.com/joshuapare/gcheap/internal/format"
)

// heapFlags are the flags every workload command accepts.
type heapFlags struct {
	kind         string
	spaceMB      uint64
	heapMB       uint64
	youngKB      uint64
	tlabKB       uint64
	maxTLABKB    uint64
	fixedTLAB    bool
	regionKB     uint64
	pygote       bool
	crossingMap  bool
	emptyRegions int
}

func (f *heapFlags) register(cmd *cobra.Command, defaultKind string) {
	d := objalloc.DefaultOptions()
	fs := cmd.Flags()
	fs.StringVar(&f.kind, "kind", defaultKind, "Heap kind: nogen, gen or g1")
	fs.Uint64Var(&f.spaceMB, "space-mb", 256, "Address space reserved for the heap, in MiB")
	fs.Uint64Var(&f.heapMB, "heap-mb", 0, "Heap limit in MiB (0 for the whole space)")
	fs.Uint64Var(&f.youngKB, "young-kb", d.YoungSize/format.KB, "Young space size in KiB")
	fs.Uint64Var(&f.tlabKB, "tlab-kb", d.TLABSize/format.KB, "Initial TLAB size in KiB")
	fs.Uint64Var(&f.maxTLABKB, "max-tlab-kb", d.MaxTLABSize/format.KB, "Largest adaptive TLAB in KiB")
	fs.BoolVar(&f.fixedTLAB, "fixed-tlab", false, "Disable adaptive TLAB sizing")
	fs.Uint64Var(&f.regionKB, "region-kb", d.RegionSize/format.KB, "Region size in KiB (g1)")
	fs.BoolVar(&f.pygote, "pygote", false, "Serve early non-movable objects from a pygote space")
	fs.BoolVar(&f.crossingMap, "crossing-map", false, "Maintain a crossing map")
	fs.IntVar(&f.emptyRegions, "empty-regions", d.MaxEmptyRegions, "Empty regions cached per kind (g1)")
}

func (f *heapFlags) options(rec mem.StatsRecorder) objalloc.Options {
	opts := objalloc.DefaultOptions()
	opts.HeapSize = f.heapMB * format.MB
	opts.YoungSize = f.youngKB * format.KB
	opts.TLABSize = f.tlabKB * format.KB
	opts.MaxTLABSize = f.maxTLABKB * format.KB
	opts.AdaptiveTLAB = !f.fixedTLAB
	opts.RegionSize = f.regionKB * format.KB
	opts.UsePygote = f.pygote
	opts.UseCrossingMap = f.crossingMap
	opts.MaxEmptyRegions = f.emptyRegions
	opts.Stats = rec
	return opts
}

// session is a heap built from heapFlags together with what it runs on.
type session struct {
	space *mem.Space
	model *mem.HeaderModel
	stats *stats.MemStats
	heap  *objalloc.ObjectAllocator
}

func (f *heapFlags) open() (*session, error) {
	kind, err := objalloc.ParseKind(f.kind)
	if err != nil {
		return nil, err
	}
	sp, err := mem.NewSpace(f.spaceMB * format.MB)
	if err != nil {
		return nil, errors.Wrap(err, "reserve heap space")
	}
	s := &session{space: sp, model: mem.NewHeaderModel(sp), stats: stats.New()}
	s.heap, err = objalloc.New(mem.NewPoolManager(sp), kind, s.model, f.options(s.stats))
	if err != nil {
		_ = sp.Close()
		return nil, errors.Wrapf(err, "build %s heap", kind)
	}
	printVerbose("Heap: %s, space %d MiB\n", kind, f.spaceMB)
	return s, nil
}

func (s *session) close() error {
	s.heap.Close()
	return s.space.Close()
}

// Objects of the workloads carry a mark word after the size header. A set
// mark means the workload has dropped the object.
const markOffset = 8

func (s *session) drop(obj mem.Addr)         { s.space.WriteU64(obj.Add(markOffset), 1) }
func (s *session) dropped(obj mem.Addr) bool { return s.space.ReadU64(obj.Add(markOffset)) == 1 }

func (s *session) checker(obj mem.Addr) mem.ObjectStatus {
	if s.dropped(obj) {
		return mem.ObjectDead
	}
	return mem.ObjectAlive
}
