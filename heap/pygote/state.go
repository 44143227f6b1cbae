package pygote

// State is the allocator's position relative to the fork.
type State uint8

const (
	// StateInit allocates through the run-slots allocator.
	StateInit State = iota

	// StateForking allocates from arenas tracked by live bitmaps.
	StateForking

	// StateForked allocates nothing. Liveness is tracked by bitmaps only.
	StateForked
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateForking:
		return "forking"
	case StateForked:
		return "forked"
	default:
		return "unknown"
	}
}
