package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/jbaubree/villus/internal/operation"
	"github.com/jbaubree/villus/internal/plugin"
)

// Subprotocol for GraphQL over WebSocket.
const wsSubprotocol = "graphql-transport-ws"

// Message types for the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// WS errors.
var (
	ErrHandshakeFailed = errors.New("websocket handshake failed")
)

// wsMessage is one frame of the graphql-transport-ws protocol.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload of a subscribe frame.
type wsSubscribePayload struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// wsDataPayload is the payload of a next frame.
type wsDataPayload struct {
	Data   interface{}       `json:"data"`
	Errors []operation.Error `json:"errors,omitempty"`
}

// WSConfig configures the WebSocket subscription forwarder.
type WSConfig struct {
	// URL is the ws:// or wss:// GraphQL endpoint.
	URL string
	// Origin is the handshake origin (default: "http://localhost/").
	Origin string
	// InitPayload is sent with connection_init.
	InitPayload map[string]interface{}
	// AckTimeout bounds the wait for connection_ack (default: 10s).
	AckTimeout time.Duration
	// Logger for forwarder events.
	Logger *slog.Logger
}

// NewWSForwarder builds a subscription Forwarder. Each forwarder invocation
// dials its own connection, performs the connection_init/connection_ack
// handshake, and returns a single-subscriber stream: subscribing sends the
// subscribe frame and starts the read loop; unsubscribing sends complete and
// closes the connection.
func NewWSForwarder(cfg WSConfig) (plugin.Forwarder, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.Origin == "" {
		cfg.Origin = "http://localhost/"
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(ctx context.Context, op *operation.Operation) (plugin.Source, error) {
		conn, err := dialAndInit(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &wsSource{
			conn:   conn,
			id:     uuid.NewString(),
			op:     op,
			logger: cfg.Logger,
		}, nil
	}, nil
}

// dialAndInit opens the connection and completes the protocol handshake.
func dialAndInit(ctx context.Context, cfg WSConfig) (*websocket.Conn, error) {
	wsCfg, err := websocket.NewConfig(cfg.URL, cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	wsCfg.Protocol = []string{wsSubprotocol}

	conn, err := websocket.DialConfig(wsCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	init := wsMessage{Type: msgConnectionInit}
	if len(cfg.InitPayload) > 0 {
		payload, err := json.Marshal(cfg.InitPayload)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: encode init payload: %v", ErrHandshakeFailed, err)
		}
		init.Payload = payload
	}
	if err := websocket.JSON.Send(conn, &init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	deadline := time.Now().Add(cfg.AckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	for {
		var msg wsMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: waiting for ack: %v", ErrHandshakeFailed, err)
		}
		switch msg.Type {
		case msgConnectionAck:
			conn.SetReadDeadline(time.Time{})
			return conn, nil
		case msgPing:
			websocket.JSON.Send(conn, &wsMessage{Type: msgPong})
		default:
			conn.Close()
			return nil, fmt.Errorf("%w: unexpected %q before ack", ErrHandshakeFailed, msg.Type)
		}
	}
}

// wsSource adapts one protocol subscription to the Source contract. The
// subscribe frame is sent on first Subscribe so no messages are produced
// before an observer is attached.
type wsSource struct {
	conn   *websocket.Conn
	id     string
	op     *operation.Operation
	logger *slog.Logger
	once   sync.Once
	push   *plugin.PushSource
}

func (s *wsSource) Subscribe(o plugin.Observer) plugin.Unsubscriber {
	s.push = plugin.NewPushSource(s.teardown)
	unsub := s.push.Subscribe(o)

	s.once.Do(func() {
		payload, err := json.Marshal(wsSubscribePayload{
			Query:     s.op.Query,
			Variables: s.op.Variables,
		})
		if err != nil {
			s.push.Fail(fmt.Errorf("%w: encode subscribe: %v", ErrTransport, err))
			s.push.Complete()
			return
		}
		msg := wsMessage{ID: s.id, Type: msgSubscribe, Payload: payload}
		if err := websocket.JSON.Send(s.conn, &msg); err != nil {
			s.push.Fail(fmt.Errorf("%w: %v", ErrTransport, err))
			s.push.Complete()
			return
		}
		go s.readLoop()
	})

	return unsub
}

// teardown runs once on unsubscribe: complete the protocol subscription and
// drop the connection.
func (s *wsSource) teardown() {
	websocket.JSON.Send(s.conn, &wsMessage{ID: s.id, Type: msgComplete})
	s.conn.Close()
}

func (s *wsSource) readLoop() {
	for {
		var msg wsMessage
		if err := websocket.JSON.Receive(s.conn, &msg); err != nil {
			if err != io.EOF {
				s.push.Fail(fmt.Errorf("%w: %v", ErrTransport, err))
			}
			s.push.Complete()
			return
		}

		switch msg.Type {
		case msgNext:
			if msg.ID != s.id {
				continue
			}
			var payload wsDataPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				s.push.Fail(fmt.Errorf("%w: decode next: %v", ErrTransport, err))
				continue
			}
			s.push.Next(&operation.Result{
				Data:   payload.Data,
				Errors: payload.Errors,
				Raw:    msg.Payload,
			})

		case msgError:
			if msg.ID != s.id {
				continue
			}
			// Protocol-level error frames terminate the subscription; the
			// errors array is delivered as one failed result first.
			var gqlErrors []operation.Error
			if err := json.Unmarshal(msg.Payload, &gqlErrors); err != nil || len(gqlErrors) == 0 {
				gqlErrors = []operation.Error{{Message: "subscription error"}}
			}
			s.push.Next(&operation.Result{Errors: gqlErrors, Raw: msg.Payload})
			s.push.Complete()
			return

		case msgComplete:
			if msg.ID != s.id {
				continue
			}
			s.push.Complete()
			return

		case msgPing:
			websocket.JSON.Send(s.conn, &wsMessage{Type: msgPong})

		case msgPong:
			// Ignore.

		default:
			s.logger.Debug("unknown frame", "type", msg.Type)
		}
	}
}
