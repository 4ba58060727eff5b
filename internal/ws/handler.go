// Package ws bridges one terminal session to one UI renderer over a
// websocket: binary frames carry terminal I/O, text frames carry resize
// control, and session exit closes the socket.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type resizeMsg struct {
	Type string `json:"type"`
	Data struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	} `json:"data"`
}

type Handler struct {
	svc *service.Service
	log *zap.Logger
}

func NewHandler(svc *service.Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing terminal id", http.StatusBadRequest)
		return
	}
	if _, ok := h.svc.Session(id); !ok {
		http.Error(w, "terminal not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	// Data and exit handlers fire from different service goroutines;
	// gorilla allows one concurrent writer.
	var writeMu sync.Mutex

	unsubData := h.svc.OnTerminalData(id, func(chunk []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteMessage(websocket.BinaryMessage, chunk)
	})
	defer unsubData()

	unsubExit := h.svc.OnTerminalExit(id, func(exitCode int) {
		writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
		writeMu.Unlock()
		conn.Close()
	})
	defer unsubExit()

	h.log.Debug("renderer attached", zap.String("id", id))

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("renderer detached", zap.String("id", id))
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.svc.WriteInput(id, msg)
		case websocket.TextMessage:
			var resize resizeMsg
			if json.Unmarshal(msg, &resize) == nil && resize.Type == "resize" {
				h.svc.ResizeTerminal(id, resize.Data.Cols, resize.Data.Rows)
			}
		}
	}
}
