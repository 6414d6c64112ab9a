package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"pdgrid/internal/harness"
	"pdgrid/internal/protocol"
)

// Reducer is a worker rank's side of the websocket reduction. It dials the
// coordinator, retrying until the coordinator is listening or ctx ends.
type Reducer struct {
	URL       string
	Rank      int
	WorldSize int
	RunID     string

	Dialer        *websocket.Dialer
	RetryInterval time.Duration
	Logger        *log.Logger
}

func (r *Reducer) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

func (r *Reducer) dial(ctx context.Context) (*websocket.Conn, error) {
	d := r.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	wait := r.RetryInterval
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		conn, _, err := d.DialContext(ctx, r.URL, nil)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == 1 || attempt%20 == 0 {
			r.logf("dial %s attempt=%d: %v", r.URL, attempt, err)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Reducer) SumToRoot(ctx context.Context, value float64) (harness.Reduction, error) {
	if r.Rank == 0 {
		return harness.Reduction{}, errors.New("ws reducer: rank 0 must host the coordinator")
	}
	conn, err := r.dial(ctx)
	if err != nil {
		return harness.Reduction{}, fmt.Errorf("dial coordinator: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	host, _ := os.Hostname()
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Rank:            r.Rank,
		WorldSize:       r.WorldSize,
		RunID:           r.RunID,
		Host:            host,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return harness.Reduction{}, r.wrap(ctx, "send HELLO", err)
	}
	var welcome protocol.WelcomeMsg
	if err := expect(conn, protocol.TypeWelcome, &welcome); err != nil {
		return harness.Reduction{}, r.wrap(ctx, "await WELCOME", err)
	}
	r.logf("joined coordinator session=%s", welcome.SessionID)

	red := protocol.ReduceMsg{
		Type:            protocol.TypeReduce,
		ProtocolVersion: protocol.Version,
		Rank:            r.Rank,
		Op:              protocol.OpSum,
		Value:           value,
	}
	if err := conn.WriteJSON(red); err != nil {
		return harness.Reduction{}, r.wrap(ctx, "send REDUCE", err)
	}
	var reduced protocol.ReducedMsg
	if err := expect(conn, protocol.TypeReduced, &reduced); err != nil {
		return harness.Reduction{}, r.wrap(ctx, "await REDUCED", err)
	}
	return harness.Reduction{WorldSize: reduced.WorldSize, Sum: reduced.Result, Values: reduced.Values}, nil
}

func (r *Reducer) wrap(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", what, err)
}

// expect reads the next message into v, turning an ERROR reply into a
// *protocol.RemoteError.
func expect(conn *websocket.Conn, typ string, v any) error {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	switch base.Type {
	case typ:
		return json.Unmarshal(msg, v)
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return err
		}
		return &protocol.RemoteError{Code: e.Code, Message: e.Message}
	}
	return fmt.Errorf("unexpected %s message", base.Type)
}
