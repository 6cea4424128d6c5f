package gate

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// feedFrame is one live-feed websocket message. Scan frames carry the
// learner and movement; error frames carry code and message instead.
type feedFrame struct {
	Type       string       `json:"type"`
	Learner    *learnerView `json:"learner,omitempty"`
	Direction  string       `json:"direction,omitempty"`
	OccurredAt string       `json:"occurred_at,omitempty"`
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
}

type feedPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newFeedPeer(encoder *json.Encoder) *feedPeer {
	return &feedPeer{encoder: encoder}
}

func (p *feedPeer) writeFrame(frame feedFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// feedHub fans scan frames out to every connected feed subscriber.
type feedHub struct {
	mu    sync.Mutex
	peers map[*feedPeer]struct{}
}

func newFeedHub() *feedHub {
	return &feedHub{peers: make(map[*feedPeer]struct{})}
}

func (h *feedHub) join(peer *feedPeer) {
	h.mu.Lock()
	h.peers[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *feedHub) leave(peer *feedPeer) {
	h.mu.Lock()
	delete(h.peers, peer)
	h.mu.Unlock()
}

func (h *feedHub) broadcast(frame feedFrame) {
	h.mu.Lock()
	peers := make([]*feedPeer, 0, len(h.peers))
	for peer := range h.peers {
		peers = append(peers, peer)
	}
	h.mu.Unlock()

	for _, peer := range peers {
		if err := peer.writeFrame(frame); err != nil {
			log.Printf("gate: drop slow feed subscriber: %v", err)
			h.leave(peer)
		}
	}
}

func (h *feedHub) broadcastScan(view learnerView, direction string, occurredAt time.Time) {
	h.broadcast(feedFrame{
		Type:       "scan",
		Learner:    &view,
		Direction:  direction,
		OccurredAt: occurredAt.UTC().Format(time.RFC3339),
	})
}

func (h *feedHub) broadcastError(code, message string) {
	h.broadcast(feedFrame{
		Type:    "error",
		Code:    code,
		Message: message,
	})
}

// handleFeedConn keeps one subscriber registered until the client closes
// the socket. Inbound frames are drained and ignored; the feed is one-way.
func handleFeedConn(conn *websocket.Conn, hub *feedHub) {
	defer func() {
		_ = conn.Close()
	}()

	peer := newFeedPeer(json.NewEncoder(conn))
	hub.join(peer)
	defer hub.leave(peer)

	if _, err := io.Copy(io.Discard, conn); err != nil {
		return
	}
}
