package protocol

import "encoding/json"

const Version = "1.0"

// Behavior event types.
const (
	EventGoalSet        = "GOAL_SET"
	EventSearchStarted  = "SEARCH_STARTED"
	EventPathFound      = "PATH_FOUND"
	EventPathPartial    = "PATH_PARTIAL"
	EventSearchFailed   = "SEARCH_FAILED"
	EventMovementFailed = "MOVEMENT_FAILED"
	EventGoalAdvanced   = "GOAL_ADVANCED"
	EventGoalReached    = "GOAL_REACHED"
	EventStopped        = "STOPPED"
	EventGaveUp         = "GAVE_UP"
)

func EventTypes() []string {
	return []string{
		EventGoalSet,
		EventSearchStarted,
		EventPathFound,
		EventPathPartial,
		EventSearchFailed,
		EventMovementFailed,
		EventGoalAdvanced,
		EventGoalReached,
		EventStopped,
		EventGaveUp,
	}
}

// Event is the wire form of a behavior event, as written to traces and
// streamed to observers.
type Event struct {
	Tick    uint64 `json:"tick"`
	AgentID string `json:"agent_id"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Goal    string `json:"goal,omitempty"`
	JobID   uint64 `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`

	Pos       *[3]int `json:"pos,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
	Expanded  int     `json:"expanded,omitempty"`
	Waypoints int     `json:"waypoints,omitempty"`
	Failures  int     `json:"failures,omitempty"`
}

// Control socket message types.
const (
	TypeSetGoal = "SET_GOAL"
	TypeStop    = "STOP"
	TypeAck     = "ACK"
	TypeError   = "ERROR"
)

// GoalSpec is the wire form of a goal. Kind is one of REACH_BLOCK, NEAR,
// COLUMN, FOLLOW, PATROL, WANDER; the other fields apply per kind.
type GoalSpec struct {
	Kind   string   `json:"kind"`
	Pos    *[3]int  `json:"pos,omitempty"`
	Radius float64  `json:"radius,omitempty"`
	Entity string   `json:"entity,omitempty"`
	Points [][3]int `json:"points,omitempty"`
	Loop   bool     `json:"loop,omitempty"`
	Seed   int64    `json:"seed,omitempty"`
}

// Client -> Server.
type SetGoalMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AgentID         string   `json:"agent_id"`
	Goal            GoalSpec `json:"goal"`
}

// Client -> Server.
type StopMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

// Server -> Client. Reply to an accepted command.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
	Tick            uint64 `json:"tick"`
}

// Server -> Client. Reply to a rejected command.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
