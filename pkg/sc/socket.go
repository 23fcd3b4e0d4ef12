package sc

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal frame-oriented duplex a Connection drives.
// gorillaSocket implements it over a *websocket.Conn; tests substitute
// an in-memory fake.
type Socket interface {
	Send([]byte) error
	Recv() ([]byte, error)
	// WriteNoDrain buffers data for a later Drain, letting a hub batch
	// writes to many peers before flushing them concurrently.
	WriteNoDrain([]byte) bool
	Drain() error
	SetMaxFrameSize(n int)
	Close() error
}

// gorillaSocket adapts a *websocket.Conn to Socket. Writes are
// serialized with a mutex since gorilla/websocket forbids concurrent
// writers on one connection.
type gorillaSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	pending [][]byte
}

// NewGorillaSocket wraps an established WebSocket connection.
func NewGorillaSocket(conn *websocket.Conn) Socket {
	return &gorillaSocket{conn: conn}
}

func (g *gorillaSocket) Send(data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (g *gorillaSocket) Recv() ([]byte, error) {
	kind, data, err := g.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("sc: expected binary WebSocket frame, got kind %d", kind)
	}
	return data, nil
}

func (g *gorillaSocket) WriteNoDrain(data []byte) bool {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.pending = append(g.pending, data)
	return true
}

func (g *gorillaSocket) Drain() error {
	g.writeMu.Lock()
	pending := g.pending
	g.pending = nil
	g.writeMu.Unlock()

	for _, data := range pending {
		if err := g.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return err
		}
	}
	return nil
}

func (g *gorillaSocket) SetMaxFrameSize(n int) {
	g.conn.SetReadLimit(int64(n))
}

func (g *gorillaSocket) Close() error {
	return g.conn.Close()
}

// recvWithTimeout bounds a blocking Recv to d. On timeout the spawned
// read is abandoned; it completes (and is discarded) whenever the
// underlying socket eventually returns or errors.
func recvWithTimeout(ws Socket, d time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := ws.Recv()
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(d):
		return nil, fmt.Errorf("sc: receive timed out after %s", d)
	}
}
