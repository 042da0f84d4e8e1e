package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelpath.ai/internal/observerproto"
	"voxelpath.ai/internal/sim/encoding"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/voxel"
)

type Info struct {
	RunID    string
	Scenario string
}

// Server streams runner ticks to loopback observers. Its Sink must be
// registered on the runner; everything else is safe from HTTP goroutines.
type Server struct {
	info       Info
	tickRateHz int
	log        *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	tick     uint64
	min, max voxel.Cell
	palette  []string
	ids      []uint16
	subs     map[string]*session
}

type session struct {
	out chan []byte // cap 1, latest wins

	agents map[string]bool
	paths  bool
	events bool
}

// NewServer copies the runner's world. Call it before the runner starts
// ticking.
func NewServer(r *runner.Runner, info Info, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	b := r.Store().Bounds()
	s := &Server{
		info:       info,
		tickRateHz: r.Tuning().TickRateHz,
		log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		tick:    r.Tick(),
		min:     b.Min,
		max:     b.Max,
		palette: append([]string(nil), r.Catalog().Palette...),
		subs:    map[string]*session{},
	}
	s.ids = make([]uint16, 0, s.volume())
	for y := b.Min.Y; y <= b.Max.Y; y++ {
		for z := b.Min.Z; z <= b.Max.Z; z++ {
			for x := b.Min.X; x <= b.Max.X; x++ {
				s.ids = append(s.ids, r.Store().Get(voxel.Cell{X: x, Y: y, Z: z}))
			}
		}
	}
	return s
}

func (s *Server) volume() int {
	return (s.max.X - s.min.X + 1) * (s.max.Y - s.min.Y + 1) * (s.max.Z - s.min.Z + 1)
}

func (s *Server) index(c voxel.Cell) int {
	dx := s.max.X - s.min.X + 1
	dz := s.max.Z - s.min.Z + 1
	return ((c.Y-s.min.Y)*dz+(c.Z-s.min.Z))*dx + (c.X - s.min.X)
}

// Sessions reports the number of connected observers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Sink is the runner sink. It keeps the world copy current and offers each
// session its filtered TICK message without blocking.
func (s *Server) Sink(snap runner.TickSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick = snap.Tick
	patches := make([]observerproto.BlockPatch, 0, len(snap.Changes))
	for _, c := range snap.Changes {
		s.ids[s.index(c.Pos)] = c.To
		patches = append(patches, observerproto.BlockPatch{Pos: [3]int{c.Pos.X, c.Pos.Y, c.Pos.Z}, Block: c.To})
	}
	if len(s.subs) == 0 {
		return
	}

	entities := make([]observerproto.EntityState, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		entities = append(entities, observerproto.EntityState{ID: e.ID, Pos: [3]float64{e.Pos.X, e.Pos.Y, e.Pos.Z}})
	}

	for sid, sess := range s.subs {
		msg := observerproto.TickMsg{
			Type:            observerproto.TypeTick,
			ProtocolVersion: observerproto.Version,
			Tick:            snap.Tick,
			Agents:          make([]observerproto.AgentState, 0, len(snap.Agents)),
			Entities:        entities,
			Blocks:          patches,
		}
		for _, a := range snap.Agents {
			if len(sess.agents) > 0 && !sess.agents[a.ID] {
				continue
			}
			msg.Agents = append(msg.Agents, agentState(a, sess.paths))
		}
		if sess.events {
			for _, e := range snap.Events {
				if len(sess.agents) > 0 && !sess.agents[e.AgentID] {
					continue
				}
				msg.Events = append(msg.Events, e)
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			s.log.Printf("[observer] %s: encode tick %d: %v", sid, snap.Tick, err)
			continue
		}
		offer(sess.out, b)
	}
}

// offer replaces any unsent message with b.
func offer(ch chan []byte, b []byte) {
	for {
		select {
		case ch <- b:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func agentState(a runner.AgentState, paths bool) observerproto.AgentState {
	st := observerproto.AgentState{
		ID:       a.ID,
		Pos:      [3]float64{a.Pos.X, a.Pos.Y, a.Pos.Z},
		Yaw:      a.Yaw,
		OnGround: a.OnGround,
		State:    a.State,
		Goal:     a.Goal,
		Movement: a.Movement,
		Progress: a.Progress,
		Failures: a.Failures,
		Err:      a.Err,
	}
	if paths && len(a.Waypoints) > 0 {
		st.Waypoints = make([][3]int, 0, len(a.Waypoints))
		for _, w := range a.Waypoints {
			st.Waypoints = append(st.Waypoints, [3]int{w.X, w.Y, w.Z})
		}
		st.NextIndex = a.NextIndex
	}
	return st
}

func (s *Server) Bootstrap() observerproto.BootstrapResponse {
	resp, _ := s.BootstrapAs(observerproto.VoxelEncoding)
	return resp
}

// BootstrapAs encodes the world copy with the named voxel encoding.
func (s *Server) BootstrapAs(enc string) (observerproto.BootstrapResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	voxels, err := encoding.Encode(enc, s.ids)
	if err != nil {
		return observerproto.BootstrapResponse{}, err
	}
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           s.info.RunID,
		Scenario:        s.info.Scenario,
		Tick:            s.tick,
		TickRateHz:      s.tickRateHz,
		Min:             [3]int{s.min.X, s.min.Y, s.min.Z},
		Max:             [3]int{s.max.X, s.max.Y, s.max.Z},
		BlockPalette:    s.palette,
		Encoding:        enc,
		Voxels:          voxels,
	}, nil
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		enc := observerproto.VoxelEncoding
		if q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("encoding"))); q != "" {
			name, ok := encoding.Names[q]
			if !ok {
				http.Error(rw, "unknown encoding", http.StatusBadRequest)
				return
			}
			enc = name
		}
		resp, err := s.BootstrapAs(enc)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 1)
		s.mu.Lock()
		s.subs[sid] = newSession(out, sub)
		s.mu.Unlock()
		s.log.Printf("[observer] %s joined (agents=%v paths=%v events=%v)", sid, sub.Agents, sub.Paths, sub.Events)
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
			s.log.Printf("[observer] %s left", sid)
		}()

		done := make(chan struct{})
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			s.mu.Lock()
			s.subs[sid] = newSession(out, sub)
			s.mu.Unlock()
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(b []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func newSession(out chan []byte, sub observerproto.SubscribeMsg) *session {
	sess := &session{out: out, paths: sub.Paths, events: sub.Events}
	if len(sub.Agents) > 0 {
		sess.agents = make(map[string]bool, len(sub.Agents))
		for _, id := range sub.Agents {
			sess.agents[id] = true
		}
	}
	return sess
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
