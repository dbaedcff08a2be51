package wsnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/theapemachine/errnie"
	"github.com/theapemachine/qshard"
)

var ErrClosed = errors.New("connection closed")

// mailbox queues the frames from one source rank without bound.
type mailbox struct {
	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) put(payload []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, payload)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, false
	}
	payload := m.queue[0]
	m.queue = m.queue[1:]
	return payload, true
}

/*
Client is one rank's connection to a hub. It implements qshard.Transport:
Send writes a frame and returns, Recv waits for the next frame from a given
rank.
*/
type Client struct {
	conn    *websocket.Conn
	rank    int
	size    int
	session string
	inbox   []*mailbox

	writeMu sync.Mutex
	done    chan struct{}
	errMu   sync.Mutex
	err     error
}

/*
Dial connects rank to the hub at url and joins a world of size ranks. The
connection attempt is retried under policy, so ranks may start before the hub.
*/
func Dial(ctx context.Context, url string, rank, size int, policy *qshard.RetryPolicy) (*Client, error) {
	if policy == nil {
		policy = qshard.DefaultRetryPolicy()
	}

	var conn *websocket.Conn
	err := policy.Do(ctx, fmt.Sprintf("rank %d dial %s", rank, url), func(ctx context.Context) error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(hello{Rank: rank, Size: size}); err != nil {
		conn.Close()
		return nil, err
	}

	var reply welcome
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Error != "" {
		conn.Close()
		return nil, fmt.Errorf("hub refused rank %d: %s", rank, reply.Error)
	}

	c := &Client{
		conn:    conn,
		rank:    rank,
		size:    size,
		session: reply.Session,
		inbox:   make([]*mailbox, size),
		done:    make(chan struct{}),
	}
	for i := range c.inbox {
		c.inbox[i] = newMailbox()
	}

	go c.readLoop()

	errnie.Info("wsnet: rank %d of %d connected to session %s", rank, size, reply.Session)
	return c, nil
}

func (c *Client) Rank() int {
	return c.rank
}

func (c *Client) Size() int {
	return c.size
}

// Session is the hub's identifier for the run.
func (c *Client) Session() string {
	return c.session
}

// Communicator layers exchanges and collectives over this connection.
func (c *Client) Communicator() qshard.Communicator {
	return qshard.NewCommunicator(c)
}

func (c *Client) Send(ctx context.Context, peer int, payload []byte) error {
	if peer < 0 || peer >= c.size {
		return fmt.Errorf("%w: %d", ErrBadRank, peer)
	}

	if err := c.failure(); err != nil {
		return err
	}

	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(c.rank))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(peer))
	copy(frame[headerSize:], payload)

	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)

	// cancellation cuts the write short and leaves the connection unusable
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.fail(ctxErr)
			return ctxErr
		}
		return err
	}
	return nil
}

func (c *Client) Recv(ctx context.Context, peer int) ([]byte, error) {
	if peer < 0 || peer >= c.size {
		return nil, fmt.Errorf("%w: %d", ErrBadRank, peer)
	}

	box := c.inbox[peer]
	for {
		if payload, ok := box.take(); ok {
			return payload, nil
		}

		select {
		case <-box.signal:
		case <-c.done:
			if payload, ok := box.take(); ok {
				return payload, nil
			}
			return nil, c.failure()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		if kind != websocket.BinaryMessage || len(frame) < headerSize {
			c.fail(ErrBadFrame)
			return
		}

		src := int(binary.LittleEndian.Uint32(frame[0:4]))
		if src >= c.size {
			c.fail(fmt.Errorf("%w: source %d", ErrBadRank, src))
			return
		}

		c.inbox[src].put(frame[headerSize:])
	}
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	if c.err == nil {
		c.err = fmt.Errorf("%w: %w", ErrClosed, err)
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Printf("wsnet: rank %d lost the hub: %v", c.rank, err)
		}
	}
}

func (c *Client) failure() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close leaves the world.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.fail(ErrClosed)
	return c.conn.Close()
}
