package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"microtrax/internal/models"
)

/********** тайминги **********/
const (
	readLimit          = 1 << 20           // 1 MB
	readDeadline       = 120 * time.Second // продлевается pong'ом
	writeDeadline      = 5 * time.Second
	pingInterval       = 15 * time.Second
	firstHelloDeadline = 30 * time.Second // время на первый кадр {app_id}
)

type subscriber struct {
	appID string
	conn  *websocket.Conn
}

// PurchaseHub streams purchase outcomes to dashboards subscribed per app.
// All access to clients happens inside Run.
type PurchaseHub struct {
	clients    map[string]map[*websocket.Conn]struct{}
	register   chan subscriber
	unregister chan subscriber
	broadcast  chan models.PurchaseOutcome
	done       chan struct{}
	pingEvery  time.Duration

	infoLog  *log.Logger
	errorLog *log.Logger
}

func NewPurchaseHub(infoLog, errorLog *log.Logger) *PurchaseHub {
	return &PurchaseHub{
		clients:    make(map[string]map[*websocket.Conn]struct{}),
		register:   make(chan subscriber),
		unregister: make(chan subscriber),
		broadcast:  make(chan models.PurchaseOutcome, 64),
		done:       make(chan struct{}),
		pingEvery:  pingInterval,
		infoLog:    infoLog,
		errorLog:   errorLog,
	}
}

func (h *PurchaseHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range h.clients {
				for conn := range conns {
					_ = writeClose(conn, websocket.CloseGoingAway, "server shutdown")
					_ = conn.Close()
				}
			}
			h.clients = make(map[string]map[*websocket.Conn]struct{})
			return

		case s := <-h.register:
			conns, ok := h.clients[s.appID]
			if !ok {
				conns = make(map[*websocket.Conn]struct{})
				h.clients[s.appID] = conns
			}
			conns[s.conn] = struct{}{}
			h.infoLog.Printf("WS register app=%s subscribers=%d", s.appID, len(conns))

		case s := <-h.unregister:
			h.drop(s.appID, s.conn)

		case o := <-h.broadcast:
			for conn := range h.clients[o.AppID] {
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteJSON(o); err != nil {
					h.errorLog.Printf("broadcast error app=%s: %v", o.AppID, err)
					h.drop(o.AppID, conn)
				}
			}
		}
	}
}

func (h *PurchaseHub) drop(appID string, conn *websocket.Conn) {
	conns, ok := h.clients[appID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	_ = conn.Close()
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, appID)
	}
	h.infoLog.Printf("WS unregister app=%s", appID)
}

func (h *PurchaseHub) Name() string { return "websocket" }

// Notify queues o for every subscriber of its app.
func (h *PurchaseHub) Notify(ctx context.Context, o models.PurchaseOutcome) error {
	select {
	case h.broadcast <- o:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
}

// ServeWS upgrades the connection. The first frame must be {"app_id": "..."}.
func (h *PurchaseHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.errorLog.Println("WebSocket upgrade error:", err)
		return
	}

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(firstHelloDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	var hello struct {
		AppID string `json:"app_id"`
	}
	if err := conn.ReadJSON(&hello); err != nil || strings.TrimSpace(hello.AppID) == "" {
		h.errorLog.Println("invalid hello payload:", err)
		_ = writeClose(conn, websocket.ClosePolicyViolation, "hello required")
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	s := subscriber{appID: strings.TrimSpace(hello.AppID), conn: conn}
	select {
	case h.register <- s:
	case <-h.done:
		_ = writeClose(conn, websocket.CloseGoingAway, "server shutdown")
		_ = conn.Close()
		return
	}

	go h.pingLoop(s)
	go h.readLoop(s)
}

// pingLoop runs beside Run's data writes, so it may only use WriteControl.
func (h *PurchaseHub) pingLoop(s subscriber) {
	t := time.NewTicker(h.pingEvery)
	defer t.Stop()
	for range t.C {
		if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
			h.leave(s)
			return
		}
	}
}

// readLoop only drains control frames; subscribers never send data.
func (h *PurchaseHub) readLoop(s subscriber) {
	defer h.leave(s)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.errorLog.Printf("ws read app=%s: %v", s.appID, err)
			}
			return
		}
	}
}

func (h *PurchaseHub) leave(s subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) error {
	return conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeDeadline),
	)
}
