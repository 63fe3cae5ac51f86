package streaming

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/streamhub/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// SocketDialer opens push-channel sockets. It holds no connection state; the
// caller owns every Socket it returns.
type SocketDialer struct {
	url       string
	subscribe []byte
	header    http.Header
}

// NewSocketDialer creates a dialer for the push endpoint at url. When
// subscribe is non-empty it is sent as a text frame right after the
// handshake, e.g. a channel subscription command.
func NewSocketDialer(url string, subscribe []byte) *SocketDialer {
	return &SocketDialer{url: url, subscribe: subscribe, header: http.Header{}}
}

// Dial connects to the push endpoint.
func (d *SocketDialer) Dial(ctx context.Context) (*Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, fmt.Errorf("streaming/socket: connect: %w", err)
	}

	s := &Socket{conn: conn, done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(d.subscribe) > 0 {
		if err := s.write(websocket.TextMessage, d.subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("streaming/socket: subscribe: %w", err)
		}
	}

	go s.pingLoop()
	return s, nil
}

// Socket is one open push-channel connection.
type Socket struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// ReadMessage blocks until the next data frame arrives. Any transport
// failure, including a close by either side, wraps domain.ErrWSDisconnect.
func (s *Socket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("streaming/socket: %w: %w", domain.ErrWSDisconnect, err)
	}
	return data, nil
}

// Close sends a close frame and shuts the connection. It is safe to call
// more than once and concurrently with ReadMessage.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

func (s *Socket) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
