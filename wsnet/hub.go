/*
Package wsnet carries the point-to-point messages of a distributed run over
websockets. Every rank holds one connection to a Hub, which routes binary
frames to the destination rank and keeps them in order per pair of ranks.
*/
package wsnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/theapemachine/errnie"
)

// headerSize is the source and destination rank in front of every frame.
const headerSize = 8

var (
	ErrRankTaken  = errors.New("rank already joined")
	ErrBadRank    = errors.New("rank outside the world")
	ErrBadFrame   = errors.New("malformed frame")
	ErrHubClosing = errors.New("hub closing")
)

// hello is the first message a rank sends after connecting.
type hello struct {
	Rank int `json:"rank"`
	Size int `json:"size"`
}

// welcome answers hello. Error is set when the hub refuses the rank.
type welcome struct {
	Session string `json:"session"`
	Size    int    `json:"size"`
	Error   string `json:"error,omitempty"`
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

/*
Hub routes frames between the ranks of one world. Frames for a rank that has
not joined yet are held until it does.
*/
type Hub struct {
	size     int
	session  string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	peers   map[int]*peer
	pending map[int][][]byte
	closed  bool
}

func NewHub(size int) (*Hub, error) {
	if size < 1 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: world size %d is not a power of two", ErrBadRank, size)
	}

	return &Hub{
		size:    size,
		session: uuid.New().String(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 1 << 20,
		},
		peers:   make(map[int]*peer),
		pending: make(map[int][][]byte),
	}, nil
}

// Session identifies the run the hub serves.
func (h *Hub) Session() string {
	return h.session
}

func (h *Hub) Size() int {
	return h.size
}

// Joined is the number of ranks currently connected.
func (h *Hub) Joined() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsnet: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var msg hello
	if err := conn.ReadJSON(&msg); err != nil {
		log.Printf("wsnet: no hello from %s: %v", r.RemoteAddr, err)
		return
	}

	p := &peer{conn: conn}
	if err := h.join(msg, p); err != nil {
		_ = conn.WriteJSON(welcome{Session: h.session, Size: h.size, Error: err.Error()})
		return
	}
	defer h.leave(msg.Rank, p)

	errnie.Info("wsnet: rank %d joined session %s (%d/%d)", msg.Rank, h.session, h.Joined(), h.size)

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("wsnet: rank %d disconnected: %v", msg.Rank, err)
			}
			return
		}

		if kind != websocket.BinaryMessage || len(frame) < headerSize {
			log.Printf("wsnet: rank %d sent a %v", msg.Rank, ErrBadFrame)
			return
		}

		if err := h.route(frame); err != nil {
			log.Printf("wsnet: dropping frame from rank %d: %v", msg.Rank, err)
			return
		}
	}
}

/*
join registers the rank, answers its hello and flushes what was held for it.
The peer's write lock is taken before the hub lock is released, so frames routed
later queue behind the held ones without stalling the rest of the hub.
*/
func (h *Hub) join(msg hello, p *peer) error {
	h.mu.Lock()

	var refused error
	switch {
	case h.closed:
		refused = ErrHubClosing
	case msg.Size != h.size:
		refused = fmt.Errorf("%w: rank %d expects a world of %d, hub has %d", ErrBadRank, msg.Rank, msg.Size, h.size)
	case msg.Rank < 0 || msg.Rank >= h.size:
		refused = fmt.Errorf("%w: %d", ErrBadRank, msg.Rank)
	case h.peers[msg.Rank] != nil:
		refused = fmt.Errorf("%w: %d", ErrRankTaken, msg.Rank)
	}
	if refused != nil {
		h.mu.Unlock()
		return refused
	}

	p.mu.Lock()
	held := h.pending[msg.Rank]
	delete(h.pending, msg.Rank)
	h.peers[msg.Rank] = p
	h.mu.Unlock()

	err := p.conn.WriteJSON(welcome{Session: h.session, Size: h.size})
	for _, frame := range held {
		if err != nil {
			break
		}
		err = p.conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	p.mu.Unlock()

	if err != nil {
		h.leave(msg.Rank, p)
	}
	return err
}

// leave forgets rank unless a newer connection holds it already.
func (h *Hub) leave(rank int, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[rank] == p {
		delete(h.peers, rank)
	}
}

func (h *Hub) route(frame []byte) error {
	dst := int(binary.LittleEndian.Uint32(frame[4:8]))
	if dst >= h.size {
		return fmt.Errorf("%w: destination %d", ErrBadRank, dst)
	}

	h.mu.Lock()
	p := h.peers[dst]
	if p == nil {
		h.pending[dst] = append(h.pending[dst], frame)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	return p.write(frame)
}

// Close disconnects every rank.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for rank, p := range h.peers {
		p.mu.Lock()
		_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closing"))
		p.mu.Unlock()
		p.conn.Close()
		delete(h.peers, rank)
	}
}
