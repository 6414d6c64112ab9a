package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pdgrid/internal/harness"
	"pdgrid/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

// Coordinator is rank 0 of a websocket reduction group. Workers connect to
// Handler; rank 0 itself contributes through SumToRoot.
type Coordinator struct {
	worldSize int
	runID     string
	log       *log.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	joined map[int]bool
	have   []bool
	values []float64
	count  int
	open   int
	result protocol.ReducedMsg
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewCoordinator(worldSize int, runID string, logger *log.Logger) (*Coordinator, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("%w: world size %d", harness.ErrInvalidGroup, worldSize)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		worldSize: worldSize,
		runID:     runID,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		joined: map[int]bool{},
		have:   make([]bool, worldSize),
		values: make([]float64, worldSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}, nil
}

// Close releases every waiter without a result.
func (c *Coordinator) Close() {
	c.once.Do(func() { close(c.closed) })
}

// Done is closed once every rank contributed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) SumToRoot(ctx context.Context, value float64) (harness.Reduction, error) {
	if code, err := c.record(0, value); err != nil {
		return harness.Reduction{}, fmt.Errorf("%s: %w", code, err)
	}
	select {
	case <-c.done:
	case <-c.closed:
		return harness.Reduction{}, fmt.Errorf("coordinator closed")
	case <-ctx.Done():
		return harness.Reduction{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return harness.Reduction{
		WorldSize: c.worldSize,
		Sum:       c.result.Result,
		Values:    append([]float64(nil), c.result.Values...),
	}, nil
}

func (c *Coordinator) record(rank int, v float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rank < 0 || rank >= c.worldSize {
		return protocol.ErrRankOutOfRange, fmt.Errorf("rank %d of %d", rank, c.worldSize)
	}
	if c.have[rank] {
		return protocol.ErrRankConflict, fmt.Errorf("rank %d already reduced", rank)
	}
	c.have[rank] = true
	c.values[rank] = v
	c.count++
	c.log.Printf("reduce rank=%d value=%.6f have=%d/%d", rank, v, c.count, c.worldSize)
	if c.count == c.worldSize {
		c.result = protocol.ReducedMsg{
			Type:            protocol.TypeReduced,
			ProtocolVersion: protocol.Version,
			Op:              protocol.OpSum,
			WorldSize:       c.worldSize,
			Result:          harness.Sum(c.values),
			Values:          append([]float64(nil), c.values...),
		}
		close(c.done)
	}
	return "", nil
}

func (c *Coordinator) join(h protocol.HelloMsg) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case h.WorldSize != c.worldSize:
		return protocol.ErrWorldSizeMismatch, fmt.Errorf("world_size %d, coordinator has %d", h.WorldSize, c.worldSize)
	case h.Rank <= 0 || h.Rank >= c.worldSize:
		return protocol.ErrRankOutOfRange, fmt.Errorf("rank %d not in [1,%d)", h.Rank, c.worldSize)
	case c.runID != "" && h.RunID != "" && h.RunID != c.runID:
		return protocol.ErrRunMismatch, fmt.Errorf("run_id %q, coordinator has %q", h.RunID, c.runID)
	case c.joined[h.Rank] || c.have[h.Rank]:
		return protocol.ErrRankConflict, fmt.Errorf("rank %d already joined", h.Rank)
	}
	c.joined[h.Rank] = true
	return "", nil
}

func (c *Coordinator) track(delta int) {
	c.mu.Lock()
	c.open += delta
	c.mu.Unlock()
}

// Drain waits until no worker connection is open, so REDUCED reaches every
// rank before the listener goes away.
func (c *Coordinator) Drain(ctx context.Context) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		c.mu.Lock()
		n := c.open
		c.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) leave(rank int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, rank)
}

func (c *Coordinator) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := c.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		c.track(1)
		defer c.track(-1)

		hello, ok := c.handshake(conn)
		if !ok {
			return
		}
		defer c.leave(hello.Rank)

		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		var red protocol.ReduceMsg
		if !readTyped(conn, protocol.TypeReduce, &red) {
			reject(conn, protocol.ErrProtoBadRequest, "expected REDUCE")
			return
		}
		if red.Rank != hello.Rank || red.Op != protocol.OpSum {
			reject(conn, protocol.ErrBadRequest, fmt.Sprintf("REDUCE rank=%d op=%q on rank %d connection", red.Rank, red.Op, hello.Rank))
			return
		}
		if code, err := c.record(red.Rank, red.Value); err != nil {
			reject(conn, code, err.Error())
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-c.done:
				c.mu.Lock()
				res := c.result
				c.mu.Unlock()
				if err := writeJSON(conn, res); err != nil {
					c.log.Printf("rank %d: send REDUCED: %v", hello.Rank, err)
				}
				return
			case <-c.closed:
				reject(conn, protocol.ErrCanceled, "coordinator closed")
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}
}

func (c *Coordinator) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello protocol.HelloMsg
	if !readTyped(conn, protocol.TypeHello, &hello) {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, fmt.Sprintf("protocol_version %q, want %q", hello.ProtocolVersion, protocol.Version))
		return hello, false
	}
	if code, err := c.join(hello); err != nil {
		c.log.Printf("reject rank=%d code=%s: %v", hello.Rank, code, err)
		reject(conn, code, err.Error())
		return hello, false
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		RunID:           c.runID,
		WorldSize:       c.worldSize,
	}
	if err := writeJSON(conn, welcome); err != nil {
		c.leave(hello.Rank)
		return hello, false
	}
	c.log.Printf("joined rank=%d host=%s session=%s", hello.Rank, hello.Host, welcome.SessionID)
	return hello, true
}

// readTyped reads one message and decodes it into v when its type matches.
func readTyped(conn *websocket.Conn, typ string, v any) bool {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != typ {
		return false
	}
	return json.Unmarshal(msg, v) == nil
}

func reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.NewError(code, msg))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
