package main

import (
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/joshuapare/gcheap/heap/mem"
	"github.com/joshuapare/gcheap/heap/objalloc"
	"github.com/joshuapare/gcheap/heap/region"
	"github.com/joshuapare/gcheap/heap/stats"
)

var regionsOpts regionsFlags

type regionsFlags struct {
	heapFlags
	seed    uint64
	objects int
	minSize uint64
	maxSize uint64
	garbage float64
	pinned  float64
	promote bool
}

func init() {
	cmd := newRegionsCmd()
	regionsOpts.register(cmd)
	rootCmd.AddCommand(cmd)
}

func (f *regionsFlags) register(cmd *cobra.Command) {
	f.heapFlags.register(cmd, "g1")
	fs := cmd.Flags()
	fs.Uint64Var(&f.seed, "seed", 1, "Workload seed")
	fs.IntVar(&f.objects, "objects", 10000, "Objects to allocate in eden")
	fs.Uint64Var(&f.minSize, "min-size", 16, "Smallest object size in bytes")
	fs.Uint64Var(&f.maxSize, "max-size", 512, "Largest object size in bytes")
	fs.Float64Var(&f.garbage, "garbage", 0.7, "Fraction of objects that die before the collection")
	fs.Float64Var(&f.pinned, "pinned", 0, "Fraction of objects allocated pinned")
	fs.BoolVar(&f.promote, "promote", false, "Promote young regions in place instead of evacuating them")
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "Fill eden regions, collect them and report region accounting",
		Long: `The regions command allocates objects into the eden regions of a g1 heap,
lets a fraction of them die and then either evacuates the survivors into old
regions or promotes the young regions in place. Region counts and live and
garbage bytes are reported before and after.

Example:
  heapctl regions --objects 50000 --garbage 0.9
  heapctl regions --promote --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions(&regionsOpts)
		},
	}
}

type regionsResult struct {
	Allocated int                  `json:"allocated"`
	Failed    int                  `json:"failed"`
	Survivors int                  `json:"survivors"`
	Mode      string               `json:"mode"`
	Regions   int                  `json:"regions"`
	Moved     int                  `json:"moved"`
	Before    objalloc.RegionStats `json:"before"`
	After     objalloc.RegionStats `json:"after"`
}

func runRegions(f *regionsFlags) error {
	if f.minSize < 2*markOffset || f.maxSize < f.minSize {
		return errors.Newf("object sizes must satisfy %d <= --min-size <= --max-size", 2*markOffset)
	}
	s, err := f.open()
	if err != nil {
		return err
	}
	defer s.close()
	if s.heap.Kind() != objalloc.KindG1 {
		return errors.Wrapf(objalloc.ErrNotRegionBased, "--kind %s", f.kind)
	}

	rng := rand.New(rand.NewPCG(f.seed, 0))
	th := s.heap.Threads().Attach()
	res := regionsResult{Mode: "evacuate"}
	for range f.objects {
		size := f.minSize + rng.Uint64N(f.maxSize-f.minSize+1)
		obj := s.heap.Allocate(size, mem.DefaultAlignment, th, objalloc.InitHeader, rng.Float64() < f.pinned)
		if obj == mem.Null {
			res.Failed++
			continue
		}
		res.Allocated++
		if rng.Float64() < f.garbage {
			s.drop(obj)
		} else {
			res.Survivors++
		}
	}
	if res.Before, err = s.heap.RegionStats(); err != nil {
		return err
	}

	if f.promote {
		res.Mode = "promote"
		res.Regions, err = s.heap.PromoteYoungRegions(s.checker, nil)
	} else {
		res.Regions, err = s.heap.CompactRegions(region.FlagEden, region.FlagOld, false, s.checker,
			func(from, to mem.Addr) { res.Moved++ })
	}
	if err != nil {
		return err
	}
	if res.After, err = s.heap.RegionStats(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	printInfo("\nRegions: %d objects allocated (%d failed), %d survive\n", res.Allocated, res.Failed, res.Survivors)
	printInfo("  Region size: %s\n\n", stats.FormatBytes(res.Before.RegionSize))
	printRegionStats("Before", res.Before)
	if f.promote {
		printInfo("Promoted %d young regions in place\n\n", res.Regions)
	} else {
		printInfo("Evacuated %d objects, freed %d regions\n\n", res.Moved, res.Regions)
	}
	printRegionStats("After", res.After)
	return nil
}

func printRegionStats(title string, st objalloc.RegionStats) {
	printInfo("%s:\n", title)
	printInfo("  Eden: %d  Old: %d  Pinned: %d\n", st.Eden, st.Old, st.Pinned)
	printInfo("  Non-movable: %d  Humongous: %d\n", st.NonMovable, st.Humongous)
	printInfo("  Cached empty: %d young, %d tenured\n", st.EmptyYoung, st.EmptyTenured)
	printInfo("  Young: %s  Tenured: %s\n", stats.FormatBytes(st.YoungBytes), stats.FormatBytes(st.TenuredBytes))
	printVerbose("  Live: %s  Garbage: %s  Pool regions: %d\n",
		stats.FormatBytes(st.LiveBytes), stats.FormatBytes(st.GarbageBytes), st.PoolRegionCount)
	printInfo("\n")
}
