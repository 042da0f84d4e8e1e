// Command pathbot drives one agent of a running pathsim: it watches the
// agent over the observer socket and gives it a random nearby goal each
// time it goes idle.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelpath.ai/internal/observerproto"
	"voxelpath.ai/internal/protocol"
)

func main() {
	var (
		addr   = flag.String("addr", "127.0.0.1:8080", "pathsim listen address")
		agent  = flag.String("agent", "A1", "agent id to drive")
		radius = flag.Int("radius", 7, "max horizontal goal offset")
		every  = flag.Uint64("every", 40, "min ticks between goals")
		seed   = flag.Int64("seed", 0, "random seed (0: time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	obs, _, err := websocket.DefaultDialer.Dial("ws://"+*addr+"/v1/observer/ws", nil)
	if err != nil {
		logger.Fatalf("dial observer: %v", err)
	}
	defer obs.Close()
	ctl, _, err := websocket.DefaultDialer.Dial("ws://"+*addr+"/v1/control/ws", nil)
	if err != nil {
		logger.Fatalf("dial control: %v", err)
	}
	defer ctl.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Agents:          []string{*agent},
		Events:          true,
	}
	if err := obs.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	b := &bot{agent: *agent, radius: *radius, every: *every, rng: rand.New(rand.NewSource(*seed))}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = obs.Close()
	}()

	for {
		_, raw, err := obs.ReadMessage()
		if err != nil {
			return
		}
		var msg observerproto.TickMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != observerproto.TypeTick {
			continue
		}
		for _, e := range msg.Events {
			logger.Printf("tick=%d %s %s", e.Tick, e.Type, eventDetail(e))
		}
		goal, ok := b.next(msg)
		if !ok {
			continue
		}
		if err := ctl.WriteJSON(goal); err != nil {
			logger.Fatalf("send SET_GOAL: %v", err)
		}
		var reply map[string]any
		if err := ctl.ReadJSON(&reply); err != nil {
			logger.Fatalf("read reply: %v", err)
		}
		logger.Printf("tick=%d goal NEAR%v -> %v %v", msg.Tick, *goal.Goal.Pos, reply["type"], reply["code"])
	}
}

type bot struct {
	agent  string
	radius int
	every  uint64
	rng    *rand.Rand

	sent     bool
	lastTick uint64
}

// next returns a goal when the agent is idle and at least every ticks
// have passed since the last one.
func (b *bot) next(msg observerproto.TickMsg) (protocol.SetGoalMsg, bool) {
	for _, a := range msg.Agents {
		if a.ID != b.agent {
			continue
		}
		if a.State != "IDLE" || (b.sent && msg.Tick < b.lastTick+b.every) {
			return protocol.SetGoalMsg{}, false
		}
		b.sent = true
		b.lastTick = msg.Tick
		target := pickTarget(b.rng, a.Pos, b.radius)
		return protocol.SetGoalMsg{
			Type:            protocol.TypeSetGoal,
			ProtocolVersion: protocol.Version,
			AgentID:         b.agent,
			Goal:            protocol.GoalSpec{Kind: "NEAR", Pos: &target, Radius: 1},
		}, true
	}
	return protocol.SetGoalMsg{}, false
}

// pickTarget offsets the agent's cell by up to radius on x and z, never
// returning the agent's own cell.
func pickTarget(rng *rand.Rand, pos [3]float64, radius int) [3]int {
	if radius < 1 {
		radius = 1
	}
	x, y, z := int(math.Floor(pos[0])), int(math.Floor(pos[1])), int(math.Floor(pos[2]))
	for {
		dx := rng.Intn(2*radius+1) - radius
		dz := rng.Intn(2*radius+1) - radius
		if dx != 0 || dz != 0 {
			return [3]int{x + dx, y, z + dz}
		}
	}
}

func eventDetail(e protocol.Event) string {
	var parts []string
	if e.AgentID != "" {
		parts = append(parts, e.AgentID)
	}
	if e.Goal != "" {
		parts = append(parts, e.Goal)
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, " ")
}
