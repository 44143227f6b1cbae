package objalloc

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind selects the heap layout.
type Kind uint8

const (
	KindNoGen Kind = iota
	KindGen
	KindG1
)

var kindNames = [...]string{
	KindNoGen: "nogen",
	KindGen:   "gen",
	KindG1:    "g1",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a name such as "g1" to its Kind. Case is ignored.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
}

// CollectMode tells Collect which part of the heap a sweep covers.
type CollectMode uint8

const (
	// CollectNone is never a valid argument to Collect.
	CollectNone CollectMode = iota
	// CollectMinor covers the young space only. Young objects are reclaimed
	// by ResetYoungAllocator or compaction, so sweeping allocators skip it.
	CollectMinor
	// CollectMajor sweeps every non-young space, the pygote space included.
	CollectMajor
	// CollectFull and CollectAll sweep the same spaces as CollectMajor.
	CollectFull
	CollectAll
)

func (m CollectMode) String() string {
	switch m {
	case CollectNone:
		return "none"
	case CollectMinor:
		return "minor"
	case CollectMajor:
		return "major"
	case CollectFull:
		return "full"
	case CollectAll:
		return "all"
	}
	return "unknown"
}

// InitPolicy says whether Allocate stamps the object header.
type InitPolicy uint8

const (
	// InitHeader writes the object size through the sizer when it also
	// implements mem.ObjectInitializer.
	InitHeader InitPolicy = iota
	// InitNone leaves the zeroed memory to the caller.
	InitNone
)
