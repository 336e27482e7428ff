package queue

import (
	"time"
)

// Lane identifies one of the four priority queues inside a backend group.
// Rotation order follows declaration order, highest priority first.
type Lane int

const (
	LaneSuperadmin Lane = iota
	LanePrivate
	LaneGroupMention
	LaneGroupNormal

	laneCount = 4
)

// String returns the lane name used in logs and status snapshots.
func (l Lane) String() string {
	switch l {
	case LaneSuperadmin:
		return "superadmin"
	case LanePrivate:
		return "private"
	case LaneGroupMention:
		return "group_mention"
	case LaneGroupNormal:
		return "group_normal"
	default:
		return "unknown"
	}
}

// Entry is one admitted request. It moves by value from its lane into the
// dispatch callback and is never aliased between the two.
type Entry struct {
	RequestID  string
	EnqueuedAt time.Time
	Payload    map[string]any
}
