// Package monitor serves live baseboard telemetry over WebSocket. It
// polls the sensor link at a fixed rate and pushes JSON frames to every
// connected client.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openmuto/mutolink/internal/config"
	"github.com/openmuto/mutolink/internal/driver"
)

// Monitor coordinates sensor polling and broadcasts snapshots to
// WebSocket clients.
type Monitor struct {
	cfg    config.MonitorConfig
	sensor *driver.Sensor
	log    *zap.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Battery int                 `json:"battery"` // first byte of the battery payload
	Angle   driver.IMUAngleData `json:"angle"`
	Raw     driver.RawIMUData   `json:"raw"`
	Stamp   int64               `json:"stamp"` // Unix ms
}

// New creates a Monitor around an opened sensor link.
func New(cfg config.MonitorConfig, sensor *driver.Sensor, log *zap.Logger) *Monitor {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.PollHz <= 0 {
		cfg.PollHz = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		sensor:  sensor,
		log:     log.Named("monitor"),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and the polling loop, blocking until ctx is
// cancelled or the server fails.
func (m *Monitor) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWS)

	go m.pollLoop(ctx)

	srv := &http.Server{
		Addr:    m.cfg.ListenAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	m.log.Info("listening", zap.String("addr", m.cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	m.clientsMu.Lock()
	m.clients[client] = struct{}{}
	total := len(m.clients)
	m.clientsMu.Unlock()
	m.log.Info("client connected", zap.Int("total", total))

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine drains keep-alives and detects disconnects.
	go func() {
		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, client)
			total := len(m.clients)
			m.clientsMu.Unlock()
			close(client.send)
			m.log.Info("client disconnected", zap.Int("total", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// pollLoop requests telemetry at the configured rate and broadcasts each
// successful poll. One exchange at a time; the link is half-duplex.
func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(m.cfg.PollHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := m.sensor.Poll()
			if err != nil {
				m.log.Warn("telemetry poll failed", zap.Error(err))
				continue
			}
			m.broadcast(snapshotFrame(snap))
		}
	}
}

func snapshotFrame(snap *driver.Snapshot) Frame {
	f := Frame{
		Battery: -1,
		Angle:   snap.Angle,
		Raw:     snap.Raw,
		Stamp:   time.Now().UnixMilli(),
	}
	if len(snap.Battery) > 0 {
		f.Battery = int(snap.Battery[0])
	}
	return f
}

func (m *Monitor) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		m.log.Warn("frame marshal failed", zap.Error(err))
		return
	}

	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	for client := range m.clients {
		select {
		case client.send <- data:
		default:
			// Slow client: drop the frame rather than stall the poll.
		}
	}
}
