package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"monetaBack/internal/models"
)

const (
	wsReadLimit     = 1 << 16 // clients only send pings, 64 KB is plenty
	wsReadDeadline  = 120 * time.Second
	wsWriteDeadline = 5 * time.Second
	wsPingInterval  = 15 * time.Second
)

type entitlementEvent struct {
	userID string
	msg    wsEnvelope
}

type wsEnvelope struct {
	Type         string             `json:"type"`
	Subscription models.Entitlement `json:"subscription"`
}

type wsClient struct {
	userID string
	conn   *websocket.Conn
}

// WebSocketManager fans entitlement changes out to a user's open sessions.
// A user can be connected from several tabs, so each user maps to a set
// of sockets.
type WebSocketManager struct {
	errorLog *log.Logger

	clients    map[string]map[*websocket.Conn]bool
	events     chan entitlementEvent
	register   chan wsClient
	unregister chan wsClient
}

func NewWebSocketManager(errorLog *log.Logger) *WebSocketManager {
	return &WebSocketManager{
		errorLog:   errorLog,
		clients:    make(map[string]map[*websocket.Conn]bool),
		events:     make(chan entitlementEvent, 64),
		register:   make(chan wsClient),
		unregister: make(chan wsClient),
	}
}

// PublishEntitlement queues an entitlement change for delivery. It never
// blocks: if the event buffer is full the event is dropped, clients refetch
// state on reconnect anyway.
func (ws *WebSocketManager) PublishEntitlement(userID string, e models.Entitlement) {
	ev := entitlementEvent{userID: userID, msg: wsEnvelope{Type: "entitlement", Subscription: e}}
	select {
	case ws.events <- ev:
	default:
		ws.errorLog.Printf("ws: event buffer full, dropped entitlement event user=%s", userID)
	}
}

// All access to clients happens here.
func (ws *WebSocketManager) Run() {
	for {
		select {
		case c := <-ws.register:
			if ws.clients[c.userID] == nil {
				ws.clients[c.userID] = make(map[*websocket.Conn]bool)
			}
			ws.clients[c.userID][c.conn] = true

		case c := <-ws.unregister:
			if conns, ok := ws.clients[c.userID]; ok && conns[c.conn] {
				_ = c.conn.Close()
				delete(conns, c.conn)
				if len(conns) == 0 {
					delete(ws.clients, c.userID)
				}
			}

		case ev := <-ws.events:
			for conn := range ws.clients[ev.userID] {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
				if err := conn.WriteJSON(ev.msg); err != nil {
					ws.errorLog.Printf("ws: send to user=%s: %v", ev.userID, err)
					_ = conn.Close()
					delete(ws.clients[ev.userID], conn)
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// entitlementSocket upgrades the connection and streams entitlement events
// for the authenticated user. The socket is write-only from the server's
// point of view; reads only service pong frames.
func (app *application) entitlementSocket(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("user_id").(string)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.errorLog.Printf("ws upgrade: %v", err)
		return
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	c := wsClient{userID: userID, conn: conn}
	app.wsManager.register <- c

	go app.wsPingLoop(c)
	go app.wsReadLoop(c)
}

func (app *application) wsPingLoop(c wsClient) {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for range t.C {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			app.wsManager.unregister <- c
			return
		}
	}
}

func (app *application) wsReadLoop(c wsClient) {
	defer func() {
		app.wsManager.unregister <- c
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
