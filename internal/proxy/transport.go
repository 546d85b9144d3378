package proxy

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/myorg/cosim/internal/cosimerr"
)

// CallbackHandler services a request frame arriving from the simulator side
// (get_progress/get_related_entities/get_data pull/set_data push/
// set_event) while one of the core's own requests may still be in flight.
// It is supplied by internal/services.
type CallbackHandler interface {
	HandleCallback(method string, args []any, kwargs map[string]any) (any, error)
}

// Transport owns one TCP connection's length-prefixed JSON framing and the
// full-duplex read loop required so callbacks can be serviced mid-request.
type Transport struct {
	conn    net.Conn
	w       *bufio.Writer
	writeMu sync.Mutex

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]chan frameResult

	callback CallbackHandler

	closeOnce sync.Once
	closed    chan struct{}
}

type frameResult struct {
	content any
	errMsg  string
	isError bool
}

// wireEnvelope is the raw [msg_type, msg_id, content] shape before the
// content payload is interpreted.
type wireEnvelope struct {
	Type    MsgType
	ID      int64
	Content json.RawMessage
}

func (e *wireEnvelope) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Type); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &e.ID); err != nil {
		return err
	}
	e.Content = raw[2]
	return nil
}

func (e wireEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.Type, e.ID, e.Content})
}

// Dial connects to a simulator listening at addr (the "connect" launch
// mode of §6) and starts its read loop.
func Dial(addr string, handler CallbackHandler) (*Transport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cosimerr.NewTransportError(fmt.Sprintf("dialing simulator at %s", addr), err)
	}
	return newTransport(conn, handler), nil
}

// NewOverConn wraps an already-established connection (used where the
// connection was set up outside Dial, e.g. the core listens and the
// simulator dials in, and for tests using net.Pipe).
func NewOverConn(conn net.Conn, handler CallbackHandler) *Transport {
	return newTransport(conn, handler)
}

func newTransport(conn net.Conn, handler CallbackHandler) *Transport {
	t := &Transport{
		conn:     conn,
		w:        bufio.NewWriter(conn),
		pending:  make(map[int64]chan frameResult),
		callback: handler,
		closed:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Call sends a request frame and blocks for its reply or ctx cancellation.
// Safe for concurrent use; each call gets its own monotonically increasing
// msg_id so replies can be correlated regardless of arrival order.
func (t *Transport) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	id := atomic.AddInt64(&t.nextID, 1)
	ch := make(chan frameResult, 1)

	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()

	content := []any{method, args, kwargs}
	if err := t.send(MsgRequest, id, content); err != nil {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, err
	}

	select {
	case res := <-ch:
		if res.isError {
			return nil, cosimerr.NewProtocolError(res.errMsg)
		}
		return res.content, nil
	case <-t.closed:
		return nil, cosimerr.NewTransportError("connection closed while awaiting reply", io.ErrClosedPipe)
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *Transport) send(typ MsgType, id int64, content any) error {
	payload, err := json.Marshal([3]any{typ, id, content})
	if err != nil {
		return cosimerr.NewProtocolError(fmt.Sprintf("encoding frame: %v", err))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := t.w.Write(lenBuf[:]); err != nil {
		return cosimerr.NewTransportError("writing frame length", err)
	}
	if _, err := t.w.Write(payload); err != nil {
		return cosimerr.NewTransportError("writing frame body", err)
	}
	return t.w.Flush()
}

// readLoop is the single reader for this connection: it dispatches success/
// error replies to the waiting Call, and hands each request frame to its own
// goroutine, which services it against the CallbackHandler and sends the
// reply. Because the reader never blocks on a callback, a simulator's
// callback during our step() never deadlocks waiting for a reader that is
// itself blocked on our reply.
func (t *Transport) readLoop() {
	defer t.closeInternal()
	r := bufio.NewReader(t.conn)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return
		}

		var env wireEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			logrus.Warnf("proxy: malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case MsgSuccess, MsgError:
			t.dispatchReply(env)
		case MsgRequest:
			go t.serveCallback(env)
		}
	}
}

func (t *Transport) dispatchReply(env wireEnvelope) {
	t.pendingMu.Lock()
	ch, ok := t.pending[env.ID]
	delete(t.pending, env.ID)
	t.pendingMu.Unlock()
	if !ok {
		return
	}

	if env.Type == MsgError {
		var msg string
		_ = json.Unmarshal(env.Content, &msg)
		ch <- frameResult{isError: true, errMsg: msg}
		return
	}
	var content any
	_ = json.Unmarshal(env.Content, &content)
	ch <- frameResult{content: content}
}

func (t *Transport) serveCallback(env wireEnvelope) {
	var call [3]json.RawMessage
	if err := json.Unmarshal(env.Content, &call); err != nil {
		_ = t.send(MsgError, env.ID, fmt.Sprintf("malformed callback: %v", err))
		return
	}
	var method string
	var args []any
	var kwargs map[string]any
	_ = json.Unmarshal(call[0], &method)
	_ = json.Unmarshal(call[1], &args)
	_ = json.Unmarshal(call[2], &kwargs)

	result, err := t.callback.HandleCallback(method, args, kwargs)
	if err != nil {
		_ = t.send(MsgError, env.ID, err.Error())
		return
	}
	_ = t.send(MsgSuccess, env.ID, result)
}

// Close shuts down the connection and unblocks any in-flight Call.
func (t *Transport) Close() error {
	err := t.conn.Close()
	t.closeInternal()
	return err
}

func (t *Transport) closeInternal() {
	t.closeOnce.Do(func() { close(t.closed) })
}
