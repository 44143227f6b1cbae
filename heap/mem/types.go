package mem

// SpaceType classifies what kind of objects a pool holds.
type SpaceType uint8

const (
	SpaceUndefined SpaceType = iota
	SpaceObject
	SpaceHumongousObject
	SpaceNonMovableObject
	SpaceInternal
)

var spaceTypeNames = map[SpaceType]string{
	SpaceUndefined:        "undefined",
	SpaceObject:           "object",
	SpaceHumongousObject:  "humongous",
	SpaceNonMovableObject: "non-movable",
	SpaceInternal:         "internal",
}

func (t SpaceType) String() string {
	if s, ok := spaceTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsObjectSpace reports whether the space holds managed objects.
func (t SpaceType) IsObjectSpace() bool {
	return t == SpaceObject || t == SpaceHumongousObject || t == SpaceNonMovableObject
}

// AllocatorType identifies which allocator owns a pool.
type AllocatorType uint8

const (
	AllocatorUndefined AllocatorType = iota
	AllocatorRunSlots
	AllocatorFreeList
	AllocatorHumongous
	AllocatorBumpPointer
	AllocatorRegion
	AllocatorPygote
)

var allocatorTypeNames = map[AllocatorType]string{
	AllocatorUndefined:   "undefined",
	AllocatorRunSlots:    "runslots",
	AllocatorFreeList:    "freelist",
	AllocatorHumongous:   "humongous",
	AllocatorBumpPointer: "bump",
	AllocatorRegion:      "region",
	AllocatorPygote:      "pygote",
}

func (t AllocatorType) String() string {
	if s, ok := allocatorTypeNames[t]; ok {
		return s
	}
	return "unknown"
}
