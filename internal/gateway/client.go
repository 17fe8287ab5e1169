package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawcore/internal/events"
)

type client struct {
	id      string
	conn    *websocket.Conn
	srv     *Server
	limiter *rate.Limiter

	// gorilla conns allow one concurrent writer only.
	writeMu sync.Mutex
}

func (c *client) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// run reads frames until the connection drops. Prompts run sequentially
// per connection; a client wanting parallel sessions opens parallel
// connections.
func (c *client) run(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.send(Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		if frame.Type != FramePrompt {
			c.send(Frame{Type: FrameError, ID: frame.ID, Error: "unknown frame type " + frame.Type})
			continue
		}
		if frame.SessionID == "" || frame.Text == "" {
			c.send(Frame{Type: FrameError, ID: frame.ID, Error: "prompt requires sessionId and text"})
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.send(Frame{Type: FrameError, ID: frame.ID, Error: "rate limited"})
			continue
		}
		c.handlePrompt(ctx, frame)
	}
}

func (c *client) handlePrompt(ctx context.Context, frame Frame) {
	queue := events.NewQueue(64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			ev, err := queue.Pull(ctx)
			if err != nil {
				return
			}
			payload, _ := json.Marshal(ev.Payload)
			c.send(Frame{
				Type:      FrameEvent,
				ID:        frame.ID,
				SessionID: frame.SessionID,
				Event:     ev.Name,
				Payload:   payload,
			})
		}
	}()

	text, err := c.srv.runTurn(ctx, frame.SessionID, frame.Text, queue)
	queue.Close()
	wg.Wait()

	if err != nil {
		c.srv.log.Error("turn failed", "client", c.id, "session", frame.SessionID, "error", err)
		c.send(Frame{Type: FrameError, ID: frame.ID, SessionID: frame.SessionID, Error: err.Error()})
		return
	}
	c.send(Frame{Type: FrameDone, ID: frame.ID, SessionID: frame.SessionID, Text: text})
}
