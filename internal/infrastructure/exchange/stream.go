package exchange

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

var errNotConnected = errors.New("stream not connected")

// streamWorker owns a single websocket connection and keeps it alive.
// After every successful dial it calls onConnect, which replays subscriptions.
type streamWorker struct {
	name   string
	url    string
	logger *zap.Logger

	onConnect func() error
	onMessage func(msg []byte)

	reconnectDelay time.Duration
	pingInterval   time.Duration
	pingMessage    interface{}

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	connects atomic.Int64
}

func newStreamWorker(name, url string, logger *zap.Logger, reconnectDelay time.Duration) *streamWorker {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &streamWorker{
		name:           name,
		url:            url,
		logger:         logger,
		reconnectDelay: reconnectDelay,
	}
}

func (w *streamWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.runLoop(ctx)
	go func() {
		defer w.wg.Done()
		<-ctx.Done()
		w.close()
	}()
}

func (w *streamWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// Connects reports how many times a connection was established.
func (w *streamWorker) Connects() int64 { return w.connects.Load() }

func (w *streamWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Stream connection failed", zap.String("exchange", w.name), zap.Error(err))
		} else {
			w.process()
		}

		if ctx.Err() != nil {
			return
		}
		metrics.ReconnectsTotal.WithLabelValues(w.name).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnectDelay):
		}
	}
}

func (w *streamWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.connects.Add(1)
	w.logger.Info("Stream connected", zap.String("exchange", w.name), zap.String("url", w.url))

	if w.onConnect != nil {
		if err := w.onConnect(); err != nil {
			w.logger.Error("Stream resubscribe failed", zap.String("exchange", w.name), zap.Error(err))
		}
	}
	return nil
}

func (w *streamWorker) process() {
	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	if w.pingInterval > 0 && w.pingMessage != nil {
		go w.pingLoop(done)
	}

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			w.logger.Warn("Stream read error", zap.String("exchange", w.name), zap.Error(err))
			w.close()
			return
		}
		if !w.dispatch(msg) {
			w.close()
			return
		}
	}
}

// dispatch hands msg to onMessage. A panicking handler drops the connection
// so runLoop reconnects.
func (w *streamWorker) dispatch(msg []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Stream handler panic", zap.String("exchange", w.name), zap.Any("panic", r))
			ok = false
		}
	}()
	w.onMessage(msg)
	return true
}

func (w *streamWorker) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.WriteJSON(w.pingMessage); err != nil {
				w.logger.Warn("Stream ping failed", zap.String("exchange", w.name), zap.Error(err))
				return
			}
		}
	}
}

func (w *streamWorker) WriteJSON(v interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()
	if c == nil {
		return errNotConnected
	}
	return c.WriteJSON(v)
}

func (w *streamWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
