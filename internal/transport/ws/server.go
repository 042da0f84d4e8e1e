// Package ws is the control socket: clients set and stop agent goals on a
// running simulation. Commands run on the simulation goroutine via
// runner.Submit and are answered with ACK or ERROR.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/nav/behavior"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/voxel"
)

var errUnknownAgent = errors.New("unknown agent")

type Server struct {
	runner *runner.Runner
	log    *log.Logger

	upgrader websocket.Upgrader
	// ReplyTimeout bounds how long a command waits for the next tick. A
	// command answered E_TIMEOUT is dropped and never applied.
	ReplyTimeout time.Duration
}

func NewServer(r *runner.Runner, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		runner: r,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		ReplyTimeout: 5 * time.Second,
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := writeJSON(conn, s.handle(msg)); err != nil {
				return
			}
		}
	}
}

// handle decodes one command and returns the reply.
func (s *Server) handle(msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg("", protocol.ErrBadRequest, "bad json")
	}
	if base.ProtocolVersion != protocol.Version {
		return errorMsg("", protocol.ErrBadRequest, "bad protocol_version")
	}

	var (
		agentID string
		apply   func(*runner.Agent) error
	)
	switch base.Type {
	case protocol.TypeSetGoal:
		var m protocol.SetGoalMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg("", protocol.ErrBadRequest, err.Error())
		}
		g, err := GoalFromSpec(m.Goal)
		if err != nil {
			return errorMsg(m.AgentID, protocol.ErrBadRequest, err.Error())
		}
		agentID = m.AgentID
		apply = func(a *runner.Agent) error { return a.Nav.SetGoal(g) }
	case protocol.TypeStop:
		var m protocol.StopMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg("", protocol.ErrBadRequest, err.Error())
		}
		agentID = m.AgentID
		apply = func(a *runner.Agent) error { a.Nav.Stop(); return nil }
	default:
		return errorMsg("", protocol.ErrBadRequest, fmt.Sprintf("unknown type %q", base.Type))
	}

	type result struct {
		tick uint64
		err  error
	}
	// claim is 0 while queued, 1 once the sim has taken the command and 2
	// once the client has been told it timed out.
	var claim atomic.Int32
	done := make(chan result, 1)
	ok := s.runner.Submit(func(r *runner.Runner) {
		if !claim.CompareAndSwap(0, 1) {
			return
		}
		a, found := r.Agent(agentID)
		if !found {
			done <- result{err: errUnknownAgent}
			return
		}
		done <- result{tick: r.Tick(), err: apply(a)}
	})
	if !ok {
		return errorMsg(agentID, protocol.ErrInternal, "simulation busy")
	}

	var res result
	select {
	case res = <-done:
	case <-time.After(s.ReplyTimeout):
		if claim.CompareAndSwap(0, 2) {
			return errorMsg(agentID, protocol.ErrTimeout, "simulation not ticking")
		}
		res = <-done
	}
	if res.err != nil {
		code := behavior.Code(res.err)
		if errors.Is(res.err, errUnknownAgent) {
			code = protocol.ErrBadRequest
		}
		return errorMsg(agentID, code, res.err.Error())
	}
	s.log.Printf("[control] %s %s at tick %d", base.Type, agentID, res.tick)
	return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AgentID: agentID, Tick: res.tick}
}

// GoalFromSpec converts the wire goal. Shape errors are reported here;
// semantic ones (empty patrol, unknown entity) come from SetGoal. FOLLOW
// starts with a zero target that SetGoal resolves through the locator.
func GoalFromSpec(spec protocol.GoalSpec) (goal.Goal, error) {
	cell := func() (voxel.Cell, error) {
		if spec.Pos == nil {
			return voxel.Cell{}, fmt.Errorf("%s: missing pos", spec.Kind)
		}
		return voxel.Cell{X: spec.Pos[0], Y: spec.Pos[1], Z: spec.Pos[2]}, nil
	}
	switch spec.Kind {
	case "REACH_BLOCK":
		c, err := cell()
		return goal.ReachBlock(c), err
	case "NEAR":
		c, err := cell()
		return goal.Near(c, spec.Radius), err
	case "COLUMN":
		c, err := cell()
		return goal.Column(c.X, c.Z), err
	case "FOLLOW":
		d := spec.Radius
		if d <= 0 {
			d = 2
		}
		return goal.Follow(spec.Entity, voxel.Cell{}, d), nil
	case "PATROL":
		pts := make([]voxel.Cell, 0, len(spec.Points))
		for _, p := range spec.Points {
			pts = append(pts, voxel.Cell{X: p[0], Y: p[1], Z: p[2]})
		}
		return goal.Patrol(pts, spec.Loop), nil
	case "WANDER":
		c, err := cell()
		return goal.Wander(c, spec.Radius, spec.Seed), err
	default:
		return goal.Goal{}, fmt.Errorf("unknown goal kind %q", spec.Kind)
	}
}

func errorMsg(agentID, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		Code:            code,
		Message:         message,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
