package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "2.0"

// Options tunes transport timing. Zero values fall back to defaults.
type Options struct {
	// CallTimeout bounds how long Call waits for a matching response.
	CallTimeout time.Duration
	// ReconnectBase is the first reconnect delay; attempt n waits
	// ReconnectBase * 2^(n-1).
	ReconnectBase time.Duration
	// MaxReconnectAttempts caps automatic reconnects after an unexpected
	// close. Once exhausted, only an explicit Dial reconnects.
	MaxReconnectAttempts int
	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout time.Duration
	// DeviceID is carried as a query parameter on the upgrade request so
	// the server can tell installs of the same account apart.
	DeviceID string
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	return o
}

// NotificationHandler receives the params of a server push frame.
type NotificationHandler func(params json.RawMessage)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// frame is the union of response and notification shapes. A frame with a
// non-null id is a response to one of our calls; anything else carrying a
// method name is a server push.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
	ID      *int64          `json:"id"`
}

type callResult struct {
	raw json.RawMessage
	err error
}

// Transport multiplexes JSON-RPC calls and server notifications over a
// single WebSocket. It owns the socket exclusively: the session layer above
// never touches the connection directly.
type Transport struct {
	opts    Options
	baseURL string
	machine *Machine
	logger  *zap.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu             sync.Mutex
	conn           *websocket.Conn
	token          string
	nextID         int64
	pending        map[int64]chan callResult
	handlers       map[string][]NotificationHandler
	connHandlers   map[int]func(bool)
	nextConnHandle int
	attempts       int
	reconnectTimer *time.Timer
	closing        bool
	generation     int
}

// New creates a transport for the given server base URL. An http(s) base is
// converted to ws(s); the socket endpoint is /api/v1/ws.
func New(baseURL string, machine *Machine, logger *zap.Logger, opts Options) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	return &Transport{
		opts:         opts.withDefaults(),
		baseURL:      base,
		machine:      machine,
		logger:       logger,
		pending:      make(map[int64]chan callResult),
		handlers:     make(map[string][]NotificationHandler),
		connHandlers: make(map[int]func(bool)),
	}
}

// Dial opens the socket, carrying the bearer token as a query parameter
// (the WebSocket handshake cannot carry an Authorization header from
// browser-class clients, and the server accepts only the query form).
// Idempotent while the socket is open.
func (t *Transport) Dial(ctx context.Context, token string) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.token = token
	t.closing = false
	t.attempts = 0
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	_ = t.machine.Transition(Connecting)
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		_ = t.machine.Transition(Disconnected)
		return err
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) error {
	t.mu.Lock()
	q := url.Values{}
	q.Set("token", t.token)
	if t.opts.DeviceID != "" {
		q.Set("device_id", t.opts.DeviceID)
	}
	endpoint := fmt.Sprintf("%s/api/v1/ws?%s", t.baseURL, q.Encode())
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", t.baseURL, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.generation++
	gen := t.generation
	t.attempts = 0
	_ = t.machine.Transition(Open)
	t.mu.Unlock()

	t.logger.Info("websocket connected", zap.String("server", t.baseURL))
	go t.readLoop(conn, gen)
	t.notifyConn(true)
	return nil
}

// IsConnected reports whether the socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Call sends a request and waits for the matching response. It returns the
// raw result payload, a *RemoteError for server error responses, ErrTimeout
// after Options.CallTimeout, or ErrNotConnected when the socket is not open.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.nextID++
	id := t.nextID
	ch := make(chan callResult, 1)
	t.pending[id] = ch
	conn := t.conn
	t.mu.Unlock()

	data, err := json.Marshal(request{JSONRPC: version, Method: method, Params: params, ID: id})
	if err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("rpc: marshal %s: %w", method, err)
	}

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		t.removePending(id)
		return nil, fmt.Errorf("rpc: write %s: %w", method, err)
	}

	timer := time.NewTimer(t.opts.CallTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.raw, res.err
	case <-timer.C:
		t.removePending(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		t.removePending(id)
		return nil, ctx.Err()
	}
}

// Handle registers a handler for a notification method. Handlers for the
// same method run in registration order on the read loop goroutine.
func (t *Transport) Handle(method string, fn NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = append(t.handlers[method], fn)
	t.mu.Unlock()
}

// OnConnectionChange registers a handler invoked with true on every
// successful (re)connect and false on every disconnect. Returns an
// unsubscribe function.
func (t *Transport) OnConnectionChange(fn func(connected bool)) func() {
	t.mu.Lock()
	id := t.nextConnHandle
	t.nextConnHandle++
	t.connHandlers[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.connHandlers, id)
		t.mu.Unlock()
	}
}

// Close shuts the socket down with a normal-closure frame and rejects all
// pending calls with ErrClosed. No reconnect is attempted afterwards.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closing = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	t.generation++
	t.flushPendingLocked(ErrClosed)
	if conn != nil {
		_ = t.machine.Transition(Closing)
	} else {
		switch t.machine.Current() {
		case Connecting, Exhausted:
			_ = t.machine.Transition(Disconnected)
		case Reconnecting:
			_ = t.machine.Transition(Closing)
			_ = t.machine.Transition(Disconnected)
		}
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	err := conn.Close()

	t.mu.Lock()
	_ = t.machine.Transition(Disconnected)
	t.mu.Unlock()
	t.notifyConn(false)
	return err
}

func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClosed(gen, err)
			return
		}
		t.dispatch(data)
	}
}

func (t *Transport) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		// One malformed push must not tear down the session.
		t.logger.Warn("malformed frame dropped", zap.Error(err))
		return
	}

	if f.ID != nil {
		t.mu.Lock()
		ch, ok := t.pending[*f.ID]
		delete(t.pending, *f.ID)
		t.mu.Unlock()
		if !ok {
			// Timed out or never ours; late responses are a no-op.
			t.logger.Debug("response for unknown id", zap.Int64("id", *f.ID))
			return
		}
		if f.Error != nil {
			ch <- callResult{err: f.Error}
		} else {
			ch <- callResult{raw: f.Result}
		}
		return
	}

	if f.Method == "" {
		t.logger.Warn("frame with neither id nor method dropped")
		return
	}

	t.mu.Lock()
	handlers := slices.Clone(t.handlers[f.Method])
	t.mu.Unlock()
	if len(handlers) == 0 {
		t.logger.Debug("unhandled notification", zap.String("method", f.Method))
		return
	}
	for _, h := range handlers {
		h(f.Params)
	}
}

func (t *Transport) handleClosed(gen int, err error) {
	t.mu.Lock()
	if gen != t.generation || t.conn == nil {
		// Close or a newer dial already took over.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.flushPendingLocked(ErrClosed)
	t.logger.Warn("websocket closed unexpectedly", zap.Error(err))
	_ = t.machine.Transition(Reconnecting)
	t.scheduleReconnectLocked()
	t.mu.Unlock()

	t.notifyConn(false)
}

func (t *Transport) scheduleReconnectLocked() {
	if t.attempts >= t.opts.MaxReconnectAttempts {
		_ = t.machine.Transition(Exhausted)
		t.logger.Error("reconnect attempts exhausted",
			zap.Int("attempts", t.attempts), zap.Error(ErrReconnectExhausted))
		return
	}
	t.attempts++
	delay := t.opts.ReconnectBase << (t.attempts - 1)
	t.logger.Info("scheduling reconnect",
		zap.Int("attempt", t.attempts), zap.Duration("delay", delay))
	t.reconnectTimer = time.AfterFunc(delay, t.tryReconnect)
}

func (t *Transport) tryReconnect() {
	t.mu.Lock()
	if t.closing || t.conn != nil {
		t.mu.Unlock()
		return
	}
	_ = t.machine.Transition(Connecting)
	t.mu.Unlock()

	if err := t.dial(context.Background()); err != nil {
		t.logger.Warn("reconnect failed", zap.Error(err))
		t.mu.Lock()
		if !t.closing {
			_ = t.machine.Transition(Reconnecting)
			t.scheduleReconnectLocked()
		}
		t.mu.Unlock()
	}
}

func (t *Transport) removePending(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *Transport) flushPendingLocked(err error) {
	for id, ch := range t.pending {
		ch <- callResult{err: err}
		delete(t.pending, id)
	}
}

func (t *Transport) notifyConn(connected bool) {
	t.mu.Lock()
	ids := make([]int, 0, len(t.connHandlers))
	for id := range t.connHandlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.connHandlers[id])
	}
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(connected)
	}
}
