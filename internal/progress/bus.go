package progress

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-csv-ingest/internal/metrics"
)

// BusConfig controls connection handling for the Bus.
//   - SendBuffer: outbound messages queued per connection before it is dropped (default 16).
//   - WriteTimeout: deadline for a single frame write (default 10s).
//   - PongTimeout: how long a silent peer is kept open; pings go out at 90% of it (default 60s).
//   - MaxMessageBytes: largest inbound frame accepted (default 4096).
//   - CheckOrigin: upgrade origin policy; nil accepts every origin.
//   - Now: clock used to stamp deliveries (defaults to time.Now in UTC).
type BusConfig struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	CheckOrigin     func(r *http.Request) bool
	Now             func() time.Time
	Logger          *zap.Logger
}

const (
	defaultSendBuffer      = 16
	defaultWriteTimeout    = 10 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultMaxMessageBytes = 4096
)

// Bus owns the set of open WebSocket connections. A single coordinator
// goroutine mutates the set; every broadcastable event is queued to all open
// connections, including the sender.
type Bus struct {
	cfg      BusConfig
	upgrader websocket.Upgrader
	emitter  Emitter
	logger   *zap.Logger
	dropLogs logThrottle

	register   chan *conn
	unregister chan *conn
	broadcast  chan Event
	conns      map[*conn]struct{}
	open       atomic.Int64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// NewBus starts the coordinator goroutine. Deliveries are reported to the
// emitter when it is non-nil.
func NewBus(cfg BusConfig, emitter Emitter) *Bus {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		emitter:    emitter,
		logger:     logger,
		dropLogs:   logThrottle{interval: dropLogInterval},
		register:   make(chan *conn),
		unregister: make(chan *conn),
		broadcast:  make(chan Event),
		conns:      make(map[*conn]struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go b.run()
	return b
}

// ServeHTTP upgrades the request and serves the connection until either side
// closes it.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		b.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, b.cfg.SendBuffer)}
	select {
	case b.register <- c:
	case <-b.stopCh:
		b.closeRefused(ws)
		return
	}
	go b.writePump(c)
	b.readPump(c)
}

// Publish relays evt to every open connection. Events that are not
// broadcastable are ignored; the return value reports whether evt was queued.
func (b *Bus) Publish(evt Event) bool {
	if !evt.Broadcastable() {
		return false
	}
	select {
	case b.broadcast <- evt:
		return true
	case <-b.stopCh:
		return false
	}
}

// Len returns the number of open connections.
func (b *Bus) Len() int {
	return int(b.open.Load())
}

// Close disconnects every client and stops the coordinator. It is safe to
// call multiple times.
func (b *Bus) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		close(b.stopCh)
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress bus close wait: %w", ctx.Err())
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)
	for {
		select {
		case c := <-b.register:
			b.conns[c] = struct{}{}
			b.open.Add(1)
			metrics.IncWSConnections()
		case c := <-b.unregister:
			b.remove(c)
		case evt := <-b.broadcast:
			b.deliver(evt)
		case <-b.stopCh:
			for c := range b.conns {
				b.remove(c)
			}
			return
		}
	}
}

// remove must only be called from the coordinator goroutine.
func (b *Bus) remove(c *conn) {
	if _, ok := b.conns[c]; !ok {
		return
	}
	delete(b.conns, c)
	close(c.send)
	b.open.Add(-1)
	metrics.DecWSConnections()
}

func (b *Bus) deliver(evt Event) {
	payload, err := evt.Encode()
	if err != nil {
		b.logger.Warn("dropping unencodable progress event", zap.Error(err))
		return
	}
	d := Delivery{Event: evt, TS: b.cfg.Now()}
	for c := range b.conns {
		select {
		case c.send <- payload:
			d.Recipients++
		default:
			b.remove(c)
			d.Dropped++
		}
	}
	if d.Dropped > 0 && b.dropLogs.Allow(time.Now()) {
		b.logger.Warn("dropped slow progress connections",
			zap.String("request_id", evt.RequestID),
			zap.Int("dropped", d.Dropped),
		)
	}
	if b.emitter != nil {
		b.emitter.Emit(d)
	}
}

func (b *Bus) leave(c *conn) {
	select {
	case b.unregister <- c:
	case <-b.doneCh:
	}
}

func (b *Bus) readPump(c *conn) {
	defer func() {
		b.leave(c)
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(b.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("progress connection closed", zap.Error(err))
			}
			return
		}
		evt, err := DecodeEvent(data)
		if err != nil {
			b.logger.Debug("ignoring malformed progress message", zap.Error(err))
			continue
		}
		b.Publish(evt)
	}
}

func (b *Bus) writePump(c *conn) {
	ticker := time.NewTicker(b.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.logger.Debug("progress write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Bus) closeRefused(ws *websocket.Conn) {
	deadline := time.Now().Add(b.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = ws.Close()
}
