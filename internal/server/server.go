package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/sshdlink/internal/command"
	"github.com/shaunagostinho/sshdlink/internal/frame"
	"github.com/shaunagostinho/sshdlink/internal/logger"
	"github.com/shaunagostinho/sshdlink/internal/realtime"
	"github.com/shaunagostinho/sshdlink/internal/sensor"
)

// Server exposes the sensor over HTTP and fans streamed lines out to
// WebSocket clients.
type Server struct {
	cfg    *Config
	client *sensor.Client
	logger *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	streamMu sync.Mutex
	session  *realtime.Session
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Message is the JSON structure sent to all WebSocket clients.
type Message struct {
	Line   string           `json:"line,omitempty"`
	Status *realtime.Status `json:"status,omitempty"`
	Stamp  int64            `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config, client *sensor.Client) *Server {
	return &Server{
		cfg:     cfg,
		client:  client,
		logger:  logger.New(cfg.Logging),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// One-shot sensor commands
	mux.HandleFunc("/api/sensor/clock/sync", s.handleClockSync)
	mux.HandleFunc("/api/sensor/", s.handleSensor)

	// Streaming
	mux.HandleFunc("/api/stream/start", s.handleStreamStart)
	mux.HandleFunc("/api/stream/stop", s.handleStreamStop)
	mux.HandleFunc("/api/stream/status", s.handleStreamStatus)

	return mux
}

// Run starts the HTTP server, and the stream when configured to auto-start.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Stream.AutoStart {
		if err := s.StartStream(ctx); err != nil {
			log.Printf("[server] auto-start stream: %v", err)
		}
	}

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		s.StopStream()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartStream begins a streaming session with the configured options. It
// runs until StopStream is called or ctx is cancelled.
func (s *Server) StartStream(ctx context.Context) error {
	s.streamMu.Lock()
	if s.session != nil {
		select {
		case <-s.session.Done():
		default:
			s.streamMu.Unlock()
			return errStreamRunning
		}
	}
	s.logger.SetEnabled(s.cfg.Logging.Enabled)
	sink := realtime.MultiSink{&lineBroadcaster{s: s}, s.logger}
	sess := realtime.NewSession(s.client, sink, s.cfg.StreamOptions())
	s.session = sess
	s.streamMu.Unlock()

	// Setup talks to the sensor; status and stop stay available meanwhile.
	return sess.Start(ctx)
}

// StopStream stops the running session, if any.
func (s *Server) StopStream() {
	s.streamMu.Lock()
	sess := s.session
	s.streamMu.Unlock()
	if sess != nil {
		sess.Stop()
		st := sess.Status()
		s.broadcast(Message{Status: &st, Stamp: time.Now().UnixMilli()})
	}
}

var errStreamRunning = errors.New("stream already running")

// lineBroadcaster is the stream sink that forwards lines to WebSocket
// clients. Closing it leaves the clients connected.
type lineBroadcaster struct {
	s *Server
}

func (b *lineBroadcaster) WriteLine(line string) error {
	b.s.broadcast(Message{Line: line, Stamp: time.Now().UnixMilli()})
	return nil
}

func (b *lineBroadcaster) Close() error { return nil }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send current stream status
	if st := s.streamStatus(); st != nil {
		if data, err := json.Marshal(Message{Status: st, Stamp: time.Now().UnixMilli()}); err == nil {
			client.send <- data
		}
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; clients send nothing)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		writeOK(w)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// sensorEndpoint reads, and optionally writes, one configuration block.
type sensorEndpoint struct {
	read  func(ctx context.Context, c *sensor.Client) (any, error)
	write func(ctx context.Context, c *sensor.Client, body []byte) error
}

// decodeAndWrite adapts a typed client write to a JSON request body.
func decodeAndWrite[T any](fn func(*sensor.Client, context.Context, T) error) func(context.Context, *sensor.Client, []byte) error {
	return func(ctx context.Context, c *sensor.Client, body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("%w: %v", command.ErrInvalidValue, err)
		}
		return fn(c, ctx, v)
	}
}

func readAs[T any](fn func(*sensor.Client, context.Context) (T, error)) func(context.Context, *sensor.Client) (any, error) {
	return func(ctx context.Context, c *sensor.Client) (any, error) {
		return fn(c, ctx)
	}
}

func readBounds(fn func(*sensor.Client, context.Context) ([]frame.Fixed88, error)) func(context.Context, *sensor.Client) (any, error) {
	return func(ctx context.Context, c *sensor.Client) (any, error) {
		b, err := fn(c, ctx)
		if err != nil {
			return nil, err
		}
		return sensor.Floats(b), nil
	}
}

func writeBounds(fn func(*sensor.Client, context.Context, []frame.Fixed88) error) func(context.Context, *sensor.Client, []byte) error {
	return decodeAndWrite(func(c *sensor.Client, ctx context.Context, vals []float64) error {
		bounds := make([]frame.Fixed88, len(vals))
		for i, v := range vals {
			bounds[i] = frame.Fixed88FromFloat(v)
		}
		return fn(c, ctx, bounds)
	})
}

var sensorEndpoints = map[string]sensorEndpoint{
	"general": {
		read:  readAs((*sensor.Client).ReadGeneralConfig),
		write: decodeAndWrite((*sensor.Client).WriteGeneralConfig),
	},
	"push": {
		read:  readAs((*sensor.Client).ReadDataPush),
		write: decodeAndWrite((*sensor.Client).WriteDataPush),
	},
	"pushmode": {
		read:  readAs((*sensor.Client).ReadGlobalPush),
		write: decodeAndWrite((*sensor.Client).WriteGlobalPush),
	},
	"uart": {
		read:  readAs((*sensor.Client).ReadUARTPush),
		write: decodeAndWrite((*sensor.Client).WriteUARTPush),
	},
	"clock": {
		read: func(ctx context.Context, c *sensor.Client) (any, error) {
			d, err := c.ReadClock(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"clock": d.String()}, nil
		},
	},
	"approaches": {
		read:  readAs((*sensor.Client).ReadApproaches),
		write: decodeAndWrite((*sensor.Client).WriteApproaches),
	},
	"lanes": {
		read:  readAs((*sensor.Client).ReadLanes),
		write: decodeAndWrite((*sensor.Client).WriteLanes),
	},
	"classes": {
		read:  readBounds((*sensor.Client).ReadClassification),
		write: writeBounds((*sensor.Client).WriteClassification),
	},
	"speedbins": {
		read:  readBounds((*sensor.Client).ReadSpeedBins),
		write: writeBounds((*sensor.Client).WriteSpeedBins),
	},
	// Write-only: signed seconds to shift the clock by.
	"clockoffset": {
		write: decodeAndWrite(func(c *sensor.Client, ctx context.Context, secs int64) error {
			return c.OffsetClock(ctx, time.Duration(secs)*time.Second)
		}),
	},
	"directionbins": {
		write: decodeAndWrite((*sensor.Client).WriteDirectionBins),
	},
	"snapshot": {
		read: readAs((*sensor.Client).ReadAll),
	},
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/sensor/")
	ep, ok := sensorEndpoints[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if ep.read == nil {
			http.Error(w, "method not allowed", 405)
			return
		}
		v, err := ep.read(r.Context(), s.client)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, v)

	case http.MethodPost:
		if ep.write == nil {
			http.Error(w, "method not allowed", 405)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := ep.write(r.Context(), s.client, body); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleClockSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if err := s.client.SyncClock(r.Context(), time.Now()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	// The session runs until stopped, not until this request ends.
	if err := s.StartStream(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s.streamStatus())
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.StopStream()
	writeOK(w)
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	st := s.streamStatus()
	if st == nil {
		st = &realtime.Status{State: realtime.Idle}
	}
	writeJSON(w, st)
}

func (s *Server) streamStatus() *realtime.Status {
	s.streamMu.Lock()
	sess := s.session
	s.streamMu.Unlock()
	if sess == nil {
		return nil
	}
	st := sess.Status()
	return &st
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	body := map[string]any{"error": err.Error()}
	var de *frame.DeviceError
	switch {
	case errors.As(err, &de):
		body["code"] = de.Code
	case errors.Is(err, frame.ErrReadTimeout), errors.Is(err, frame.ErrWriteTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, frame.ErrConnectionLost):
		status = http.StatusServiceUnavailable
	case errors.Is(err, command.ErrInvalidValue):
		status = http.StatusBadRequest
	case errors.Is(err, errStreamRunning):
		status = http.StatusConflict
	}
	log.Printf("[server] %v", err)
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
