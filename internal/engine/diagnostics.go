package engine

import (
	"time"

	"firestige.xyz/flowlens/internal/core"
)

// Diagnostics is a point-in-time view of the running session, refreshed on
// every tick and state change.
type Diagnostics struct {
	State          State                 `json:"state"`
	Device         string                `json:"device,omitempty"`
	Source         core.FrameSourceStats `json:"source"`
	DecodeFailures map[string]uint64     `json:"decode_failures"`
	Flows          int                   `json:"flows"`
	Ticks          uint64                `json:"ticks"`
	Evicted        uint64                `json:"evicted"`
	LastTick       time.Time             `json:"last_tick"`
}
