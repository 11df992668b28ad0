package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/channelstream/channelstream/internal/domain/model"
	"github.com/channelstream/channelstream/internal/domain/registry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMsgSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The shared secret guards the control plane; transports are open,
	// so cross-origin browser clients are expected.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Websocket is the streaming transport: every queued batch is written
// to the socket as one JSON array frame.
func (a *API) Websocket(w http.ResponseWriter, r *http.Request) {
	connID, err := uuid.Parse(r.URL.Query().Get("conn_id"))
	if err != nil {
		writeUnauthorized(w)
		return
	}
	conn, ok := a.broker.LookupConnection(connID)
	if !ok {
		writeUnauthorized(w)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", "conn_id", connID, "err", err)
		return
	}
	defer ws.Close()

	conn.MarkActivity()
	queue := conn.AttachQueue()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.wsReadPump(ctx, ws, conn) })
	g.Go(func() error { return a.wsWritePump(ctx, ws, conn, queue) })

	if err := g.Wait(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		a.logger.Debug("websocket session ended", "conn_id", connID, "err", err)
	}
}

// wsReadPump drains inbound frames. Clients only talk to the control
// plane over plain HTTP, so frames are discarded; they still count as
// activity for the idle sweeper.
func (a *API) wsReadPump(ctx context.Context, ws *websocket.Conn, conn *registry.Connection) error {
	ws.SetReadLimit(wsMaxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		conn.MarkActivity()
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, _, err := ws.ReadMessage(); err != nil {
			return err
		}
		conn.MarkActivity()
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

func (a *API) wsWritePump(ctx context.Context, ws *websocket.Conn, conn *registry.Connection, queue <-chan []model.Envelope) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case batch := <-queue:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(batch); err != nil {
				return err
			}
			conn.MarkActivity()
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
