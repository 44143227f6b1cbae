package main

import (
	"maps"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/objalloc"
	"github.com/joshuapare/gcheap/heap/region"
	"github.com/joshuapare/gcheap/heap/stats"
	"github.com/joshuapare/gcheap/internal/format"
)

var stressOpts stressFlags

type stressFlags struct {
	heapFlags
	seed       uint64
	rounds     int
	threads    int
	ops        int
	garbage    float64
	nonMovable float64
	maxSize    uint64
	lang       string
}

func init() {
	cmd := newStressCmd()
	stressOpts.register(cmd)
	rootCmd.AddCommand(cmd)
}

func (f *stressFlags) register(cmd *cobra.Command) {
	f.heapFlags.register(cmd, "nogen")
	fs := cmd.Flags()
	fs.Uint64Var(&f.seed, "seed", 1, "Workload seed")
	fs.IntVar(&f.rounds, "rounds", 4, "Allocate/collect rounds")
	fs.IntVar(&f.threads, "threads", 4, "Mutator goroutines, each with its own TLAB")
	fs.IntVar(&f.ops, "ops", 1000, "Allocations per thread per round")
	fs.Float64Var(&f.garbage, "garbage", 0.5, "Fraction of objects dropped each round")
	fs.Float64Var(&f.nonMovable, "non-movable", 0.1, "Fraction of non-movable allocations")
	fs.Uint64Var(&f.maxSize, "max-size", 256*format.KB, "Largest object size in bytes")
	fs.StringVar(&f.lang, "lang", "en", "Language tag for number formatting")
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a seeded allocation and collection workload",
		Long: `The stress command runs rounds of concurrent allocation followed by a
collection, then checks that heap iteration finds exactly the objects the
workload kept, each with its size header intact.

Collection depends on the heap kind:
  nogen  sweeps every space.
  gen    sweeps the tenured spaces and resets the young space. Objects still
         young at the end of a round are short-lived and die with it.
  g1     sweeps non-movable and humongous regions and evacuates the survivors
         of every eden and old region into fresh old regions.

Example:
  heapctl stress --kind g1 --rounds 8 --threads 8
  heapctl stress --kind gen --seed 42 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(&stressOpts)
		},
	}
}

type stressResult struct {
	Kind      string         `json:"kind"`
	Seed      uint64         `json:"seed"`
	Rounds    int            `json:"rounds"`
	Allocated uint64         `json:"allocated"`
	Failed    uint64         `json:"failed"`
	Dropped   uint64         `json:"dropped"`
	Released  uint64         `json:"released_young"`
	Moved     uint64         `json:"moved"`
	Live      int            `json:"live"`
	Elapsed   string         `json:"elapsed"`
	Heap      objalloc.Stats `json:"heap"`
	Spaces    stats.Snapshot `json:"spaces"`
}

// workerResult is what one mutator goroutine did in a round.
type workerResult struct {
	kept              map[mem.Addr]uint64
	allocated, failed uint64
	dropped           uint64
}

func runStress(f *stressFlags) error {
	tag, err := language.Parse(f.lang)
	if err != nil {
		return errors.Wrapf(err, "parse --lang %q", f.lang)
	}
	if f.maxSize < 2*markOffset {
		return errors.Newf("--max-size must be at least %d", 2*markOffset)
	}
	s, err := f.open()
	if err != nil {
		return err
	}
	defer s.close()

	threads := make([]*objalloc.Thread, f.threads)
	for i := range threads {
		threads[i] = s.heap.Threads().Attach()
	}

	res := stressResult{Kind: s.heap.Kind().String(), Seed: f.seed, Rounds: f.rounds}
	live := make(map[mem.Addr]uint64)
	rng := rand.New(rand.NewPCG(f.seed, 0))
	start := time.Now()

	for round := range f.rounds {
		// Drop part of what earlier rounds kept.
		for _, obj := range slices.Sorted(maps.Keys(live)) {
			if rng.Float64() < f.garbage {
				s.drop(obj)
				delete(live, obj)
				res.Dropped++
			}
		}

		results := make([]workerResult, f.threads)
		var wg sync.WaitGroup
		for w := range f.threads {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[w] = f.mutate(s, threads[w], uint64(round)*uint64(f.threads)+uint64(w)+1)
			}()
		}
		wg.Wait()
		for _, r := range results {
			res.Allocated += r.allocated
			res.Failed += r.failed
			res.Dropped += r.dropped
			for obj, size := range r.kept {
				live[obj] = size
			}
		}

		released, moved, err := collect(s, live)
		if err != nil {
			return errors.Wrapf(err, "round %d", round)
		}
		res.Released += released
		res.Moved += moved
		if err := verify(s, live); err != nil {
			return errors.Wrapf(err, "round %d", round)
		}
		printVerbose("  round %d: live %d, moved %d, used %s\n",
			round, len(live), moved, stats.FormatBytes(s.heap.PoolManager().Used()))
	}

	res.Live = len(live)
	res.Elapsed = time.Since(start).String()
	res.Heap = s.heap.Stats()
	res.Spaces = s.stats.Snapshot()

	if jsonOut {
		return printJSON(res)
	}
	printInfo("\nStress: %s heap, %d rounds x %d threads x %d ops (seed %d)\n",
		res.Kind, f.rounds, f.threads, f.ops, f.seed)
	printInfo("  Allocated: %d (%d failed)\n", res.Allocated, res.Failed)
	printInfo("  Dropped: %d, released with young space: %d, moved: %d\n", res.Dropped, res.Released, res.Moved)
	printInfo("  Live: %d objects, heap used %s (peak %s)\n",
		res.Live, stats.FormatBytes(res.Heap.Used), stats.FormatBytes(res.Heap.Peak))
	printInfo("  Elapsed: %s\n\n", res.Elapsed)
	if quiet {
		return nil
	}
	return res.Spaces.WriteReport(os.Stdout, tag)
}

// mutate runs one thread's share of a round.
func (f *stressFlags) mutate(s *session, th *objalloc.Thread, stream uint64) workerResult {
	rng := rand.New(rand.NewPCG(f.seed, stream))
	out := workerResult{kept: make(map[mem.Addr]uint64, f.ops)}
	for range f.ops {
		size := pickSize(rng, f.maxSize)
		var obj mem.Addr
		if rng.Float64() < f.nonMovable {
			obj = s.heap.AllocateNonMovable(size, mem.DefaultAlignment, objalloc.InitHeader)
		} else {
			obj = s.heap.Allocate(size, mem.DefaultAlignment, th, objalloc.InitHeader, false)
		}
		if obj == mem.Null {
			out.failed++
			continue
		}
		out.allocated++
		if rng.Float64() < f.garbage {
			s.drop(obj)
			out.dropped++
			continue
		}
		out.kept[obj] = size
	}
	return out
}

// pickSize draws mostly small objects, some medium ones and the odd large one.
func pickSize(rng *rand.Rand, maxSize uint64) uint64 {
	lo, hi := uint64(2*markOffset), uint64(256)
	switch p := rng.Float64(); {
	case p < 0.002:
		lo, hi = 16*format.KB, maxSize
	case p < 0.05:
		lo, hi = 256, 8*format.KB
	}
	hi = min(hi, maxSize)
	lo = min(lo, hi)
	return lo + rng.Uint64N(hi-lo+1)
}

// collect reclaims the dropped objects and updates live for objects that
// moved or died with the young space.
func collect(s *session, live map[mem.Addr]uint64) (released, moved uint64, err error) {
	h := s.heap
	h.Collect(s.checker, objalloc.CollectMajor)

	switch h.Kind() {
	case objalloc.KindGen:
		for obj := range live {
			if h.IsObjectInYoungSpace(obj) {
				delete(live, obj)
				released++
			}
		}
		h.ResetYoungAllocator()

	case objalloc.KindG1:
		type move struct{ from, to mem.Addr }
		var moves []move
		record := func(from, to mem.Addr) { moves = append(moves, move{from, to}) }
		if _, err := h.CompactRegions(region.FlagOld, region.FlagOld, false, s.checker, record); err != nil {
			return 0, 0, err
		}
		if _, err := h.CompactRegions(region.FlagEden, region.FlagOld, false, s.checker, record); err != nil {
			return 0, 0, err
		}
		for _, m := range moves {
			size, ok := live[m.from]
			if !ok {
				return 0, 0, errors.Newf("moved object %v was not live", m.from)
			}
			delete(live, m.from)
			live[m.to] = size
		}
		moved = uint64(len(moves))
	}
	return released, moved, nil
}

// verify checks that heap iteration yields exactly the live objects.
func verify(s *session, live map[mem.Addr]uint64) error {
	seen := 0
	var firstErr error
	s.heap.IterateOverObjects(func(obj mem.Addr) {
		seen++
		size, ok := live[obj]
		switch {
		case firstErr != nil:
		case !ok:
			firstErr = errors.Newf("heap holds unexpected object %v (%d bytes)", obj, s.model.ObjectSize(obj))
		case s.model.ObjectSize(obj) != size:
			firstErr = errors.Newf("object %v: size header %d, want %d", obj, s.model.ObjectSize(obj), size)
		}
	})
	if firstErr != nil {
		return firstErr
	}
	if seen != len(live) {
		return errors.Newf("heap iteration found %d objects, want %d", seen, len(live))
	}
	return nil
}
