package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/store"
)

func echoRunner(t *testing.T) Runner {
	t.Helper()
	return func(ctx context.Context, sess *session.Session, prompt string, queue *events.Queue) error {
		queue.Push(ctx, events.Event{Name: "status", Payload: map[string]string{"status": "running"}})
		if err := sess.History.Push(session.NewTextMessage(session.RoleUser, prompt)); err != nil {
			return err
		}
		return sess.History.Push(session.NewTextMessage(session.RoleAssistant, "echo: "+prompt))
	}
}

func dialTest(t *testing.T, srv *Server, header http.Header, query string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		ts.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, ts
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestPromptRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	srv := NewServer(Options{Store: st, Runner: echoRunner(t)})
	conn, ts := dialTest(t, srv, nil, "")
	defer ts.Close()
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Type: FramePrompt, ID: "r1", SessionID: "s1", Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	var done Frame
	sawEvent := false
	for {
		f := readFrame(t, conn)
		switch f.Type {
		case FrameEvent:
			sawEvent = true
			if f.ID != "r1" {
				t.Errorf("event id = %q", f.ID)
			}
		case FrameDone:
			done = f
		case FrameError:
			t.Fatalf("unexpected error frame: %s", f.Error)
		}
		if done.Type != "" {
			break
		}
	}
	if !sawEvent {
		t.Error("expected at least one event frame before done")
	}
	if done.Text != "echo: hello" {
		t.Errorf("done text = %q", done.Text)
	}

	// Session persisted with both messages.
	sess, err := st.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if n := len(sess.History.Effective()); n != 2 {
		t.Errorf("history length = %d, want 2", n)
	}
}

func TestPromptValidation(t *testing.T) {
	srv := NewServer(Options{Store: store.NewMemoryStore(), Runner: echoRunner(t)})
	conn, ts := dialTest(t, srv, nil, "")
	defer ts.Close()
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Errorf("malformed frame: got %q", f.Type)
	}

	conn.WriteJSON(Frame{Type: "bogus"})
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Errorf("unknown type: got %q", f.Type)
	}

	conn.WriteJSON(Frame{Type: FramePrompt, Text: "no session"})
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Errorf("missing session: got %q", f.Type)
	}
}

func TestTokenAuth(t *testing.T) {
	srv := NewServer(Options{Token: "sekrit", Store: store.NewMemoryStore(), Runner: echoRunner(t)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil {
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token=sekrit", nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	conn.Close()

	header := http.Header{"Authorization": []string{"Bearer sekrit"}}
	conn, _, err = websocket.DefaultDialer.Dial(base, header)
	if err != nil {
		t.Fatalf("dial with bearer token: %v", err)
	}
	conn.Close()
}

func TestRunnerErrorSurfacesAsErrorFrame(t *testing.T) {
	runner := func(ctx context.Context, _ *session.Session, _ string, _ *events.Queue) error {
		return context.DeadlineExceeded
	}
	srv := NewServer(Options{Store: store.NewMemoryStore(), Runner: runner})
	conn, ts := dialTest(t, srv, nil, "")
	defer ts.Close()
	defer conn.Close()

	conn.WriteJSON(Frame{Type: FramePrompt, ID: "r1", SessionID: "s1", Text: "x"})
	f := readFrame(t, conn)
	if f.Type != FrameError || f.ID != "r1" {
		t.Fatalf("got frame %+v, want error for r1", f)
	}
}

func TestHealth(t *testing.T) {
	srv := NewServer(Options{Store: store.NewMemoryStore(), Runner: echoRunner(t)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}
