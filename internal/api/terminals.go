package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/termdeck/termdeck/internal/service"
	"github.com/termdeck/termdeck/internal/term"
)

// TerminalsHandler exposes the session service to the UI over JSON.
// Terminal input and output travel over the websocket attach endpoint,
// not through here.
type TerminalsHandler struct {
	svc *service.Service
	log *zap.Logger
}

func NewTerminalsHandler(svc *service.Service, log *zap.Logger) *TerminalsHandler {
	return &TerminalsHandler{svc: svc, log: log}
}

func (h *TerminalsHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Sessions())
}

func (h *TerminalsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Shell string `json:"shell"`
		Cwd   string `json:"cwd"`
		Cols  int    `json:"cols"`
		Rows  int    `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	desc, err := h.svc.CreateTerminal(body.Name, term.CreateOptions{
		Shell: body.Shell,
		Cwd:   body.Cwd,
		Cols:  body.Cols,
		Rows:  body.Rows,
	})
	if err != nil {
		if errors.Is(err, term.ErrCapacityExceeded) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, desc)
}

func (h *TerminalsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.svc.CloseTerminal(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *TerminalsHandler) HandleResize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	h.svc.ResizeTerminal(r.PathValue("id"), body.Cols, body.Rows)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSaveState persists the current session list for a workspace. The
// UI supplies each terminal's rendered scrollback text; the service and
// everything below it never see the renderer.
func (h *TerminalsHandler) HandleSaveState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Workspace   string            `json:"workspace"`
		Scrollbacks map[string]string `json:"scrollbacks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Workspace == "" {
		WriteError(w, http.StatusBadRequest, "workspace is required")
		return
	}

	err := h.svc.SaveState(body.Workspace, func(id string) string {
		return body.Scrollbacks[id]
	})
	if err != nil {
		// Non-fatal: the UI logs it and carries on.
		h.log.Warn("state save failed", zap.String("workspace", body.Workspace), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TerminalsHandler) HandleLoadState(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace")
	if workspace == "" {
		WriteError(w, http.StatusBadRequest, "workspace is required")
		return
	}

	state, scrollbacks := h.svc.LoadState(workspace)
	WriteJSON(w, http.StatusOK, map[string]any{
		"state":       state,
		"scrollbacks": scrollbacks,
	})
}
