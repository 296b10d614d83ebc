package graph

// Kind selects one of the independent id spaces.
type Kind int

// Id spaces.
const (
	KindGroup Kind = iota
	KindPort
	KindConnection

	kindCount
)

// String returns the id space name used in logs.
func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindPort:
		return "port"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// IDAllocator issues strictly increasing ids starting at 1, one counter per
// Kind. The zero value is ready to use.
type IDAllocator struct {
	last [kindCount]int
}

// Next returns the next id for kind. Ids are never handed out twice until
// Reset is called.
func (a *IDAllocator) Next(kind Kind) int {
	a.last[kind]++
	return a.last[kind]
}

// Last returns the most recently issued id for kind, or 0 if none.
func (a *IDAllocator) Last(kind Kind) int {
	return a.last[kind]
}

// Reset restarts every counter. Only a full resync may call this, after all
// live entities have been announced as removed.
func (a *IDAllocator) Reset() {
	a.last = [kindCount]int{}
}
