package transport

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// WebSocketSubprotocol is the subprotocol negotiated by GraphQLWSTransport.
const WebSocketSubprotocol = "graphql-ws"

type messageType string

const (
	messageTypeConnectionInit      messageType = "connection_init"
	messageTypeConnectionAck       messageType = "connection_ack"
	messageTypeConnectionError     messageType = "connection_error"
	messageTypeConnectionKeepAlive messageType = "ka"
	messageTypeConnectionTerminate messageType = "connection_terminate"
	messageTypeStart               messageType = "start"
	messageTypeStop                messageType = "stop"
	messageTypeData                messageType = "data"
	messageTypeError               messageType = "error"
	messageTypeComplete            messageType = "complete"
)

type message struct {
	Id      string          `json:"id,omitempty"`
	Type    messageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type callResult struct {
	response *Response
	err      error
}

// GraphQLWSTransport executes operations over a single graphql-ws protocol
// websocket connection, dialing lazily on the first round trip and redialing
// if the connection is lost.
type GraphQLWSTransport struct {
	// The endpoint URL, e.g. "ws://example.com/graphql". Required.
	URL string

	// If not given, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger

	// If not given, websocket.DefaultDialer is used (with the graphql-ws
	// subprotocol added).
	Dialer *websocket.Dialer

	// If given, this is sent as the connection_init payload. Commonly used
	// for authentication.
	ConnectionInitPayload json.RawMessage

	mu         sync.Mutex
	conn       *websocket.Conn
	pending    map[string]chan callResult
	nextId     uint64
	terminated bool

	// Serializes writes; gorilla connections support one concurrent writer.
	writeMu sync.Mutex
}

func (t *GraphQLWSTransport) logger() logrus.FieldLogger {
	if t.Logger != nil {
		return t.Logger
	}
	return logrus.StandardLogger()
}

// RoundTrip implements Transport. The operation is sent as a "start" message
// and the reply is the first "data" or "error" message with a matching id.
func (t *GraphQLWSTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	conn, id, ch, err := t.register()
	if err != nil {
		return nil, err
	}

	payload, err := jsoniter.Marshal(req)
	if err != nil {
		t.unregister(id)
		return nil, errors.Wrap(err, "unable to marshal operation payload")
	}
	if err := t.writeMessage(conn, &message{
		Id:      id,
		Type:    messageTypeStart,
		Payload: payload,
	}); err != nil {
		t.unregister(id)
		return nil, errors.Wrap(err, "unable to send operation")
	}

	select {
	case result, ok := <-ch:
		if !ok {
			return nil, errNoResponse
		}
		return result.response, result.err
	case <-ctx.Done():
		t.unregister(id)
		if err := t.writeMessage(conn, &message{
			Id:   id,
			Type: messageTypeStop,
		}); err != nil {
			t.logger().Info(errors.Wrap(err, "unable to send stop message"))
		}
		return nil, ctx.Err()
	}
}

// Close terminates the connection. In-flight round trips fail. The transport
// cannot be reused afterwards.
func (t *GraphQLWSTransport) Close() error {
	t.mu.Lock()
	t.terminated = true
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := t.writeMessage(conn, &message{Type: messageTypeConnectionTerminate}); err != nil {
		t.logger().Info(errors.Wrap(err, "unable to send terminate message"))
	}
	return conn.Close()
}

// register connects if necessary and reserves an operation id.
func (t *GraphQLWSTransport) register() (*websocket.Conn, string, chan callResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return nil, "", nil, errors.New("transport is closed")
	}

	if t.conn == nil {
		conn, err := t.connect()
		if err != nil {
			return nil, "", nil, err
		}
		t.conn = conn
		if t.pending == nil {
			t.pending = map[string]chan callResult{}
		}
		go t.readLoop(conn)
	}

	t.nextId++
	id := strconv.FormatUint(t.nextId, 10)
	ch := make(chan callResult, 1)
	t.pending[id] = ch
	return t.conn, id, ch, nil
}

func (t *GraphQLWSTransport) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// connect dials the endpoint and performs the init / ack handshake. Called
// with t.mu held, before the read loop exists, so it can read directly.
func (t *GraphQLWSTransport) connect() (*websocket.Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialer = &websocket.Dialer{
		Proxy:            dialer.Proxy,
		HandshakeTimeout: dialer.HandshakeTimeout,
		TLSClientConfig:  dialer.TLSClientConfig,
		Subprotocols:     []string{WebSocketSubprotocol},
	}

	conn, _, err := dialer.Dial(t.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to dial endpoint")
	}

	if err := t.writeMessage(conn, &message{
		Type:    messageTypeConnectionInit,
		Payload: t.ConnectionInitPayload,
	}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to send connection init")
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "error reading connection ack")
		}
		switch msg.Type {
		case messageTypeConnectionAck:
			return conn, nil
		case messageTypeConnectionKeepAlive:
		case messageTypeConnectionError:
			conn.Close()
			return nil, errors.Errorf("connection refused: %s", string(msg.Payload))
		default:
			conn.Close()
			return nil, errors.Errorf("unexpected message during handshake: %v", msg.Type)
		}
	}
}

func (t *GraphQLWSTransport) writeMessage(conn *websocket.Conn, msg *message) error {
	data, err := jsoniter.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "error marshaling message")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *GraphQLWSTransport) readLoop(conn *websocket.Conn) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.mu.Lock()
			terminated := t.terminated
			t.mu.Unlock()
			if !terminated && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger().Info(errors.Wrap(err, "websocket read error"))
			}
			t.fail(conn, errors.Wrap(err, "connection lost"))
			return
		}

		switch msg.Type {
		case messageTypeData:
			var resp Response
			if err := jsoniter.Unmarshal(msg.Payload, &resp); err != nil {
				t.deliver(msg.Id, callResult{err: errors.Wrap(err, "unable to decode response payload")})
				break
			}
			t.deliver(msg.Id, callResult{response: &resp})
		case messageTypeError:
			var payload struct {
				Message string `json:"message"`
			}
			if err := jsoniter.Unmarshal(msg.Payload, &payload); err != nil || payload.Message == "" {
				payload.Message = string(msg.Payload)
			}
			t.deliver(msg.Id, callResult{err: errors.New(payload.Message)})
		case messageTypeComplete, messageTypeConnectionKeepAlive:
		default:
			t.logger().WithField("type", msg.Type).Info("unexpected graphql-ws message received")
		}
	}
}

func (t *GraphQLWSTransport) deliver(id string, result callResult) {
	t.mu.Lock()
	ch := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ch != nil {
		ch <- result
	}
}

// fail errors out every pending call and forgets the connection so the next
// round trip redials.
func (t *GraphQLWSTransport) fail(conn *websocket.Conn, err error) {
	conn.Close()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- callResult{err: err}
	}
}
