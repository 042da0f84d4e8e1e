package observerproto

import (
	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/encoding"
)

// Version is the observer protocol version (separate from the event protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
)

// VoxelEncoding is the default BootstrapResponse.Voxels encoding:
// - Decode base64 to bytes, interpret as little-endian uint16 palette ids
// - Iteration order: for y in min..max, for z in min..max, for x in min..max (x fastest)
//
// GET /v1/observer/bootstrap?encoding=rle returns encoding.RLE instead.
const VoxelEncoding = encoding.PAL16

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only stream these agents. Empty means all.
	Agents []string `json:"agents,omitempty"`
	// Include current waypoints for each agent.
	Paths bool `json:"paths,omitempty"`
	// Include pathing events.
	Events bool `json:"events,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Scenario        string `json:"scenario"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`

	Min          [3]int   `json:"min"`
	Max          [3]int   `json:"max"`
	BlockPalette []string `json:"block_palette"`
	Encoding     string   `json:"encoding"`
	Voxels       string   `json:"voxels"`
}

// Server -> Client. Sent every tick (latest wins under backpressure).
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Agents   []AgentState     `json:"agents"`
	Entities []EntityState    `json:"entities,omitempty"`
	Blocks   []BlockPatch     `json:"blocks,omitempty"`
	Events   []protocol.Event `json:"events,omitempty"`
}

type AgentState struct {
	ID       string     `json:"id"`
	Pos      [3]float64 `json:"pos"`
	Yaw      float64    `json:"yaw"`
	OnGround bool       `json:"on_ground"`

	State    string  `json:"state"`
	Goal     string  `json:"goal,omitempty"`
	Movement string  `json:"movement,omitempty"`
	Progress float64 `json:"progress"`
	Failures int     `json:"failures,omitempty"`
	Err      string  `json:"err,omitempty"`

	Waypoints [][3]int `json:"waypoints,omitempty"`
	NextIndex int      `json:"next_index,omitempty"`
}

type EntityState struct {
	ID  string     `json:"id"`
	Pos [3]float64 `json:"pos"`
}

type BlockPatch struct {
	Pos   [3]int `json:"pos"`
	Block uint16 `json:"block"`
}
