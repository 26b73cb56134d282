package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/martistream/internal/cache"
	"github.com/vadiminshakov/martistream/internal/domain"
	"github.com/vadiminshakov/martistream/internal/events"
	"github.com/vadiminshakov/martistream/internal/storage/orderjournal"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
)

type pendingSource interface {
	Pending() []domain.PendingTag
}

type balanceSubscriber interface {
	Subscribe() chan events.BalanceChange
	Unsubscribe(ch chan events.BalanceChange)
}

type orderJournalReader interface {
	RecordsAfter(index uint64) ([]orderjournal.Record, error)
}

type subscriberCounter interface {
	Subscribers() int
}

type journalIndexer interface {
	CurrentIndex() uint64
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BalancesResponse lists the known free balances.
type BalancesResponse struct {
	Balances map[string]float64 `json:"balances"`
}

// Server exposes the read caches over HTTP.
type Server struct {
	Addr     string
	Cache    *cache.Cache
	Pending  pendingSource
	Balances balanceSubscriber
	Journal  orderJournalReader

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithPending exposes the pending order tags.
func WithPending(p pendingSource) Option {
	return func(s *Server) {
		s.Pending = p
	}
}

// WithBalanceStream enables the balance change SSE stream.
func WithBalanceStream(b balanceSubscriber) Option {
	return func(s *Server) {
		s.Balances = b
	}
}

// WithJournal enables the order update SSE stream.
func WithJournal(j orderJournalReader) Option {
	return func(s *Server) {
		s.Journal = j
	}
}

// WithPollInterval sets how often the order journal is polled for new records.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new status server instance.
func NewServer(addr string, c *cache.Cache, opts ...Option) *Server {
	s := &Server{
		Addr:              addr,
		Cache:             c,
		pollInterval:      journalPollInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "web"))

	return s
}

// Handler returns the router with every endpoint registered.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/balances", s.handleBalances).Methods("GET")
	api.HandleFunc("/balances/stream", s.handleBalanceStream).Methods("GET")
	api.HandleFunc("/tickers", s.handleTickers).Methods("GET")
	api.HandleFunc("/tickers/{symbol}", s.handleTicker).Methods("GET")
	api.HandleFunc("/orders", s.handleOrders).Methods("GET")
	api.HandleFunc("/orders/stream", s.handleOrderStream).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleOrder).Methods("GET")
	api.HandleFunc("/pending", s.handlePending).Methods("GET")

	return router
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status api listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status api")
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server", zap.Error(err))
		}
	}()

	s.logger.Info("status api listening with automatic tls",
		zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status api")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":           "ok",
		"balances_tracked": s.Cache.Balances().Attached(),
	}
	if c, ok := s.Balances.(subscriberCounter); ok {
		body["balance_subscribers"] = c.Subscribers()
	}
	if j, ok := s.Journal.(journalIndexer); ok {
		body["journal_index"] = j.CurrentIndex()
	}

	respondJSON(w, body)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, BalancesResponse{Balances: s.Cache.Balances().Snapshot()})
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.Cache.Quotes())
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	quote, ok := s.Cache.Quote(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "ticker not found", symbol)
		return
	}

	respondJSON(w, quote)
}

// handleOrders lists the cached orders by id. With ?open=true orders in a final status are left out.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	openOnly := false
	if v := r.URL.Query().Get("open"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid open filter", err.Error())
			return
		}
		openOnly = b
	}

	orders := s.Cache.Orders()
	if openOnly {
		open := orders[:0]
		for _, o := range orders {
			if !o.IsTerminal() {
				open = append(open, o)
			}
		}
		orders = open
	}

	respondJSON(w, orders)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	order, ok := s.Cache.Order(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}

	respondJSON(w, order)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if s.Pending == nil {
		respondJSON(w, []domain.PendingTag{})
		return
	}
	tags := s.Pending.Pending()
	if tags == nil {
		tags = []domain.PendingTag{}
	}
	respondJSON(w, tags)
}

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	if s.Balances == nil {
		respondError(w, http.StatusServiceUnavailable, "balance stream not available", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.Balances.Subscribe()
	defer s.Balances.Unsubscribe(ch)

	setStreamHeaders(w)

	// current state first, so a client never starts from an empty view
	if err := writeEvent(w, "balances", "", BalancesResponse{Balances: s.Cache.Balances().Snapshot()}); err != nil {
		s.logger.Warn("balance stream initial write", zap.Error(err))
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case change, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, "balance", "", change); err != nil {
				s.logger.Warn("balance stream write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		respondError(w, http.StatusServiceUnavailable, "order journal not available", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex := uint64(0)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		idx, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid Last-Event-ID", err.Error())
			return
		}
		lastIndex = idx
	}

	sendRecords := func() error {
		records, err := s.Journal.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := writeEvent(w, "order", strconv.FormatUint(record.Index, 10), record.Order); err != nil {
				return err
			}
			lastIndex = record.Index
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	records, err := s.Journal.RecordsAfter(lastIndex)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load orders", err.Error())
		s.logger.Error("order stream initial load", zap.Error(err))
		return
	}

	setStreamHeaders(w)
	for _, record := range records {
		if err := writeEvent(w, "order", strconv.FormatUint(record.Index, 10), record.Order); err != nil {
			return
		}
		lastIndex = record.Index
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendRecords(); err != nil {
				s.logger.Warn("order stream poll", zap.Error(err))
			}
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeEvent(w http.ResponseWriter, name, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", name)
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, err string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   err,
		Message: message,
	})
}
