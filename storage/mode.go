package storage

// Mode is the open mode of a group or array handle.
// A handle has at most one active mode at a time.
type Mode int

const (
	// ModeRead opens a handle for queries only.
	ModeRead Mode = iota + 1
	// ModeWrite opens a handle for metadata and data mutation.
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "invalid"
	}
}
