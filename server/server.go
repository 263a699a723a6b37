package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/wfunc/cardduel/catalog"
	"github.com/wfunc/cardduel/logger"
	"github.com/wfunc/cardduel/monitor"
	"github.com/wfunc/cardduel/network"
	"github.com/wfunc/cardduel/room"
	"github.com/wfunc/cardduel/session"
	"github.com/wfunc/cardduel/solo"
)

const timeout = 10 * time.Second

// Options 服务器配置
type Options struct {
	Address           string
	PublicURL         string
	Heartbeat         time.Duration
	SendQueue         int
	MessagesPerSecond float64
	MessageBurst      int
}

type GameServer struct {
	opts           Options
	upgrader       websocket.Upgrader
	roomManager    *room.Manager
	sessionManager *session.Manager
	catalog        *catalog.Catalog
	solo           *solo.Store
	limiter        *solo.CooldownLimiter
	monitor        *monitor.Monitor
	router         *httprouter.Router
	srv            *http.Server
	conns          sync.WaitGroup
}

func NewGameServer(opts Options, rooms *room.Manager, sessions *session.Manager, cat *catalog.Catalog,
	soloStore *solo.Store, limiter *solo.CooldownLimiter, mon *monitor.Monitor) *GameServer {
	s := &GameServer{
		opts:           opts,
		roomManager:    rooms,
		sessionManager: sessions,
		catalog:        cat,
		solo:           soloStore,
		limiter:        limiter,
		monitor:        mon,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              opts.Address,
		Handler:           s.router,
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: timeout,
	}
	return s
}

func (s *GameServer) routes() *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		logger.Log.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, i)
		writeError(w, http.StatusInternalServerError, "An error has occurred. Please try again.")
	}
	mux.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.GET("/ws", s.handleWebSocket)

	mux.POST("/rooms", s.handleCreateRoom)
	mux.POST("/game/create-two-player", s.handleCreateRoom)
	mux.GET("/rooms/public", s.handlePublicRooms)
	mux.GET("/public-games", s.handlePublicRooms)
	mux.GET("/qr/:code", s.handleRoomQR)
	mux.GET("/stats", s.handleStats)

	mux.GET("/cards", s.handleCards)
	mux.POST("/game", s.handleSoloStart)
	mux.POST("/guess", s.handleSoloGuess)

	mux.GET("/healthz", s.handleHealth)
	mux.Handler(http.MethodGet, "/metrics", s.monitor.Handler())

	return mux
}

// Handler exposes the router, mostly for tests.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Shutdown is called.
func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.opts.Address)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes every websocket session and waits for
// their handlers to return.
func (s *GameServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)

	for _, sess := range s.sessionManager.All() {
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn, s.opts.SendQueue)
	if s.opts.Heartbeat > 0 {
		wsConn.SetHeartbeat(s.opts.Heartbeat)
	}
	go wsConn.WritePump()

	sess := session.NewSession(uuid.NewString(), wsConn)
	if s.opts.MessagesPerSecond > 0 {
		sess.SetRateLimit(s.opts.MessagesPerSecond, s.opts.MessageBurst)
	}
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", sess.RemoteAddr, sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", sess.RemoteAddr, sess.GetID())
		s.roomManager.Disconnect(sess)
		s.sessionManager.Remove(sess.GetID())
		s.monitor.DecOnlinePlayers()
		wsConn.Close()
	}()

	for {
		data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if !sess.Allow() {
			s.monitor.IncMessagesDropped()
			logger.Log.Debugf("Session %s over message rate, frame dropped", sess.GetID())
			continue
		}
		if !s.roomManager.HandleCommand(sess, network.Decode(data)) {
			return
		}
	}
}

// clientIP is the caller address without port, honouring proxy headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); net.ParseIP(ip) != nil {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
