package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

type feedTestFrame struct {
	Type    string `json:"type"`
	Learner *struct {
		ID         string `json:"id"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	} `json:"learner"`
	Direction  string `json:"direction"`
	OccurredAt string `json:"occurred_at"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/feed"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// waitForSubscribers blocks until the hub has registered want peers. The
// server joins a peer after the handshake returns to the client, so tests
// must not scan before the subscription lands.
func waitForSubscribers(t *testing.T, hub *feedHub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		got := len(hub.peers)
		hub.mu.Unlock()
		if got >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("feed never reached %d subscribers", want)
}

func readFeedFrame(t *testing.T, conn *websocket.Conn) feedTestFrame {
	t.Helper()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var frame feedTestFrame
	if err := json.NewDecoder(conn).Decode(&frame); err != nil {
		t.Fatalf("decode feed frame: %v", err)
	}
	return frame
}

func TestFeedBroadcastsAcceptedScans(t *testing.T) {
	srv, hub := newGateServerWithHub(t)
	createLearner(t, srv, map[string]string{"id": "7", "given_name": "Thabo", "family_name": "Nkosi"})

	conn := dialFeed(t, srv)
	waitForSubscribers(t, hub, 1)

	resp := postScan(t, srv, map[string]string{"learner_id": "7", "occurred_at": "2026-05-14T08:00:00Z"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("scan status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	frame := readFeedFrame(t, conn)
	if frame.Type != "scan" {
		t.Fatalf("frame type = %q, want scan", frame.Type)
	}
	if frame.Learner == nil || frame.Learner.ID != "7" {
		t.Fatalf("frame learner = %+v, want id 7", frame.Learner)
	}
	if frame.Direction != "IN" {
		t.Fatalf("frame direction = %q, want IN", frame.Direction)
	}
	if frame.OccurredAt != "2026-05-14T08:00:00Z" {
		t.Fatalf("frame occurred_at = %q, want 2026-05-14T08:00:00Z", frame.OccurredAt)
	}
}

func TestFeedBroadcastsRefusedScans(t *testing.T) {
	srv, hub := newGateServerWithHub(t)
	createLearner(t, srv, map[string]string{"id": "7", "given_name": "Thabo", "family_name": "Nkosi"})

	resp := postScan(t, srv, map[string]string{"learner_id": "7", "direction": "IN", "occurred_at": "2026-05-14T08:00:00Z"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first scan status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	conn := dialFeed(t, srv)
	waitForSubscribers(t, hub, 1)

	resp = postScan(t, srv, map[string]string{"learner_id": "7", "direction": "IN", "occurred_at": "2026-05-14T08:30:00Z"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat scan status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	frame := readFeedFrame(t, conn)
	if frame.Type != "error" {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
	if frame.Code != "SEQUENCE_VIOLATION" {
		t.Fatalf("frame code = %q, want SEQUENCE_VIOLATION", frame.Code)
	}
	if frame.Learner != nil {
		t.Fatalf("frame learner = %+v, want none on error frames", frame.Learner)
	}
}

func TestFeedFansOutToAllSubscribers(t *testing.T) {
	srv, hub := newGateServerWithHub(t)
	createLearner(t, srv, map[string]string{"id": "7", "given_name": "Thabo", "family_name": "Nkosi"})

	first := dialFeed(t, srv)
	second := dialFeed(t, srv)
	waitForSubscribers(t, hub, 2)

	postScan(t, srv, map[string]string{"learner_id": "7", "occurred_at": "2026-05-14T08:00:00Z"})

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFeedFrame(t, conn)
		if frame.Type != "scan" || frame.Learner == nil || frame.Learner.ID != "7" {
			t.Fatalf("frame = %+v, want scan for learner 7", frame)
		}
	}
}

func TestFeedDropsClosedSubscribers(t *testing.T) {
	srv, hub := newGateServerWithHub(t)
	createLearner(t, srv, map[string]string{"id": "7", "given_name": "Thabo", "family_name": "Nkosi"})

	conn := dialFeed(t, srv)
	waitForSubscribers(t, hub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		got := len(hub.peers)
		hub.mu.Unlock()
		if got == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("closed subscriber was never removed from the hub")
}
