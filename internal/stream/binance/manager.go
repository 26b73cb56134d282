// Package binance implements the stream transport on top of Binance public and user-data websockets.
package binance

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/martistream/internal/stream"
	"github.com/vadiminshakov/martistream/pkg/retrier"
)

const (
	defaultKeepalive         = 30 * time.Minute
	defaultReconnectInterval = time.Second
	maxReconnectInterval     = 30 * time.Second
	closeListenKeyTimeout    = 5 * time.Second
	defaultReadTimeout       = 5 * time.Minute
	controlWriteWait         = 10 * time.Second

	miniTickerMarket  = "!miniTicker"
	bookTickerChannel = "bookTicker"
)

// BaseURL returns the websocket endpoint for the given top-level domain.
func BaseURL(tld string, testnet bool) string {
	if testnet {
		return "wss://testnet.binance.vision"
	}
	if tld == "" {
		tld = "com"
	}
	return "wss://stream.binance." + tld + ":9443"
}

// ListenKeyService manages user-data stream listen keys.
type ListenKeyService interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepaliveUserStream(ctx context.Context, listenKey string) error
	CloseUserStream(ctx context.Context, listenKey string) error
}

// Option configures the Manager.
type Option func(*Manager)

// WithBaseURL overrides the websocket endpoint, e.g. for a test server.
func WithBaseURL(u string) Option {
	return func(m *Manager) {
		m.baseURL = strings.TrimRight(u, "/")
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithKeepalive sets the listen key keepalive period.
func WithKeepalive(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.keepalive = d
		}
	}
}

// WithReconnectInterval sets the initial reconnect backoff.
func WithReconnectInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnect = d
		}
	}
}

// WithReadTimeout sets how long a connection may stay silent before it is dropped and redialed.
// Pings are sent at half that period, so a healthy peer keeps the connection alive with pongs.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

type subscription struct {
	info     stream.StreamInfo
	userData bool
	path     string

	mu        sync.Mutex
	listenKey string
}

func (s *subscription) setListenKey(k string) {
	s.mu.Lock()
	s.listenKey = k
	s.mu.Unlock()
}

func (s *subscription) currentListenKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenKey
}

// Manager owns every websocket subscription and buffers their signals and events until
// the dispatch loop pops them.
type Manager struct {
	baseURL    string
	dialer     *websocket.Dialer
	listenKeys ListenKeyService
	keepalive   time.Duration
	reconnect   time.Duration
	readTimeout time.Duration
	logger      *zap.Logger

	signals stream.Queue[stream.Signal]
	events  stream.Queue[stream.Event]

	mu      sync.RWMutex
	streams map[string]*subscription

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a transport whose subscriptions live until ctx is done or Stop is called.
func NewManager(ctx context.Context, listenKeys ListenKeyService, opts ...Option) *Manager {
	m := &Manager{
		baseURL:    BaseURL("com", false),
		dialer:     websocket.DefaultDialer,
		listenKeys: listenKeys,
		keepalive:   defaultKeepalive,
		reconnect:   defaultReconnectInterval,
		readTimeout: defaultReadTimeout,
		logger:      zap.NewNop(),
		streams:     make(map[string]*subscription),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With(zap.String("component", "stream"))
	m.ctx, m.cancel = context.WithCancel(ctx)

	return m
}

// SubscribeMiniTickers subscribes to the all-market mini ticker stream and returns the stream id.
func (m *Manager) SubscribeMiniTickers() string {
	return m.subscribe(&subscription{
		info: stream.StreamInfo{Markets: []string{miniTickerMarket}, Channels: []string{"arr"}},
		path: "/ws/" + miniTickerMarket + "@arr",
	})
}

// SubscribeBookTickers subscribes to the best bid/ask stream of every symbol and returns the stream id.
func (m *Manager) SubscribeBookTickers(symbols []string) (string, error) {
	if len(symbols) == 0 {
		return "", errors.New("no symbols to subscribe to book tickers")
	}

	markets := make([]string, 0, len(symbols))
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		market := strings.ToLower(s)
		markets = append(markets, market)
		names = append(names, market+"@"+bookTickerChannel)
	}

	return m.subscribe(&subscription{
		info: stream.StreamInfo{Markets: markets, Channels: []string{bookTickerChannel}},
		path: "/stream?streams=" + strings.Join(names, "/"),
	}), nil
}

// SubscribeUserData subscribes to the account user-data stream and returns the stream id.
// A fresh listen key is requested on every (re)connect and kept alive while connected. The key it
// replaces is closed.
func (m *Manager) SubscribeUserData() (string, error) {
	if m.listenKeys == nil {
		return "", errors.New("listen key service is required for the user data stream")
	}

	sub := &subscription{
		info:     stream.StreamInfo{Markets: []string{stream.UserDataMarket}, Channels: []string{"arr"}},
		userData: true,
	}
	id := m.subscribe(sub)

	m.wg.Add(1)
	go m.keepListenKeyAlive(sub)

	return id, nil
}

func (m *Manager) subscribe(sub *subscription) string {
	sub.info.ID = uuid.NewString()

	m.mu.Lock()
	m.streams[sub.info.ID] = sub
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(sub)

	return sub.info.ID
}

// PopSignal returns the oldest connection signal.
func (m *Manager) PopSignal() (stream.Signal, bool) {
	return m.signals.Pop()
}

// PopEvent returns the oldest decoded event.
func (m *Manager) PopEvent() (stream.Event, bool) {
	return m.events.Pop()
}

// IsStopping reports whether Stop was called or the parent context is done.
func (m *Manager) IsStopping() bool {
	return m.stopping.Load() || m.ctx.Err() != nil
}

// StreamInfo returns the metadata of a subscribed stream.
func (m *Manager) StreamInfo(id string) (stream.StreamInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.streams[id]
	if !ok {
		return stream.StreamInfo{}, false
	}
	return sub.info, true
}

// Stop closes every stream and waits for their goroutines. Calling it more than once is safe.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		m.cancel()
		m.wg.Wait()

		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, sub := range m.streams {
			if !sub.userData {
				continue
			}
			if key := sub.currentListenKey(); key != "" {
				m.closeListenKey(key, m.logger)
			}
		}

		m.logger.Info("all streams stopped")
	})
}

func (m *Manager) run(sub *subscription) {
	defer m.wg.Done()

	log := m.logger.With(zap.String("stream_id", sub.info.ID), zap.Strings("markets", sub.info.Markets))

	for {
		conn, err := m.dial(sub, log)
		if err != nil {
			// only ctx cancellation ends the unlimited retry
			return
		}

		m.signals.Push(stream.Signal{Kind: stream.Connect, StreamID: sub.info.ID, Time: time.Now()})
		log.Info("stream connected")

		err = m.read(conn, log)

		m.signals.Push(stream.Signal{Kind: stream.Disconnect, StreamID: sub.info.ID, Time: time.Now()})
		if m.ctx.Err() != nil {
			return
		}
		log.Warn("stream disconnected, reconnecting", zap.Error(err))
	}
}

func (m *Manager) dial(sub *subscription, log *zap.Logger) (*websocket.Conn, error) {
	r := retrier.New(
		retrier.WithInitialInterval(m.reconnect),
		retrier.WithMaxInterval(maxReconnectInterval),
		retrier.WithMaxRetries(retrier.Unlimited),
		retrier.WithOnRetry(func(attempt int, err error) {
			log.Warn("stream dial failed", zap.Int("attempt", attempt), zap.Error(err))
		}),
	)

	return retrier.DoWithData(r, m.ctx, func(ctx context.Context) (*websocket.Conn, error) {
		path := sub.path
		if sub.userData {
			key, err := m.listenKeys.StartUserStream(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "start user stream")
			}
			if prev := sub.currentListenKey(); prev != "" && prev != key {
				m.closeListenKey(prev, log)
			}
			sub.setListenKey(key)
			path = "/ws/" + key
		}

		conn, _, err := m.dialer.DialContext(ctx, m.baseURL+path, nil)
		if err != nil {
			return nil, errors.Wrap(err, "dial websocket")
		}
		return conn, nil
	})
}

func (m *Manager) closeListenKey(key string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeListenKeyTimeout)
	defer cancel()

	if err := m.listenKeys.CloseUserStream(ctx, key); err != nil {
		log.Warn("close listen key", zap.Error(err))
	}
}

// read pushes decoded events until the connection fails or the manager stops. Any frame or pong
// pushes the read deadline forward, so a half-open connection fails with a timeout.
func (m *Manager) read(conn *websocket.Conn, log *zap.Logger) error {
	done := make(chan struct{})
	defer close(done)

	extend := func() {
		_ = conn.SetReadDeadline(time.Now().Add(m.readTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return nil
	})

	go func() {
		ping := time.NewTicker(m.readTimeout / 2)
		defer ping.Stop()

		for {
			select {
			case <-m.ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(controlWriteWait))
				_ = conn.Close()
				return
			case <-done:
				_ = conn.Close()
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait)); err != nil {
					log.Debug("websocket ping", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read websocket")
		}
		extend()

		event, err := decodeMessage(msg)
		if err != nil {
			log.Warn("drop undecodable message", zap.Error(err), zap.ByteString("message", msg))
			continue
		}
		m.events.Push(event)
	}
}

func (m *Manager) keepListenKeyAlive(sub *subscription) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			key := sub.currentListenKey()
			if key == "" {
				continue
			}
			if err := m.listenKeys.KeepaliveUserStream(m.ctx, key); err != nil {
				m.logger.Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}
