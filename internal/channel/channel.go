// SPDX-License-Identifier: Apache-2.0

// Package channel carries request/response pairs between page agents and the
// relay broker over a websocket. Every request travels in an Envelope with a
// unique id so that many requests can be in flight on one connection.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akihiro/login-autofill/internal/protocol"
)

// maxEnvelopeSize bounds a single websocket message. Requests are tiny.
const maxEnvelopeSize = 64 << 10

const writeTimeout = 5 * time.Second

// Envelope is one message on the channel.
type Envelope struct {
	ID       string             `json:"id"`
	Request  *protocol.Request  `json:"request,omitempty"`
	Response *protocol.Response `json:"response,omitempty"`
}

// Handler answers one request. *broker.Broker satisfies it.
type Handler interface {
	Respond(ctx context.Context, req protocol.Request) *protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req protocol.Request) *protocol.Response

func (f HandlerFunc) Respond(ctx context.Context, req protocol.Request) *protocol.Response {
	return f(ctx, req)
}

// Server is the broker side of the channel.
type Server struct {
	handler  Handler
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer returns a Server that accepts connections only from the given
// origins. "*" allows any origin.
func NewServer(h Handler, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{handler: h, logger: logger}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			ok := slices.Contains(allowedOrigins, "*") || (origin != "" && slices.Contains(allowedOrigins, origin))
			if !ok {
				logger.Warn("rejected channel origin", zap.String("origin", origin), zap.String("remote", r.RemoteAddr))
			}
			return ok
		},
	}
	return s
}

// ServeHTTP upgrades the connection and serves envelopes until the peer
// disconnects. In-flight requests of a disconnected peer are cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxEnvelopeSize)

	log := s.logger.With(zap.String("peer", r.RemoteAddr))
	log.Debug("channel opened")

	ctx, cancel := context.WithCancel(r.Context())
	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	reply := func(env Envelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(env); err != nil {
			log.Debug("write reply", zap.String("id", env.ID), zap.Error(err))
		}
	}

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("channel read", zap.Error(err))
			}
			break
		}
		if env.ID == "" || env.Request == nil {
			reply(Envelope{ID: env.ID, Response: &protocol.Response{Error: protocol.MsgInvalidRequest}})
			continue
		}

		wg.Add(1)
		go func(env Envelope) {
			defer wg.Done()
			resp := s.handler.Respond(ctx, *env.Request)
			reply(Envelope{ID: env.ID, Response: resp})
		}(env)
	}

	cancel()
	wg.Wait()
	log.Debug("channel closed")
}

// Client is the agent side of the channel.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	err     error
	done    chan struct{}
}

// Dial connects to the broker at url, presenting origin.
func Dial(ctx context.Context, url, origin string) (*Client, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial broker %s: %w", url, err)
	}
	conn.SetReadLimit(maxEnvelopeSize)

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *protocol.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SendMessage sends req and waits for its response. Losing the connection
// fails every pending call with protocol.ErrDisconnected.
func (c *Client) SendMessage(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	id := uuid.NewString()
	ch := make(chan *protocol.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteJSON(Envelope{ID: id, Request: &req})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDisconnected, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", protocol.ErrDisconnected, err)
			c.mu.Unlock()
			close(c.done)
			return
		}
		if env.Response == nil {
			continue
		}
		c.mu.Lock()
		ch := c.pending[env.ID]
		c.mu.Unlock()
		if ch == nil {
			continue
		}
		select {
		case ch <- env.Response:
		default:
		}
	}
}

// ErrClosed is reported to calls made after Close.
var ErrClosed = errors.New("channel closed")

// Close sends a close frame, closes the connection and waits for the reader
// to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done

	c.mu.Lock()
	c.err = fmt.Errorf("%w: %w", protocol.ErrDisconnected, ErrClosed)
	c.mu.Unlock()
	return err
}
