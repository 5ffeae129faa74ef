package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clipdeck/clipdeck/libs/outbox"
)

// DispatcherAdmin toggles outbox draining at runtime. Pausing lets operators
// stop the publish loop during a broker incident without restarting the
// service; appended events keep accumulating and drain on resume.
type DispatcherAdmin struct {
	dispatcher *outbox.Dispatcher
	store      *outbox.PgStore
	logger     *slog.Logger
}

func NewDispatcherAdmin(dispatcher *outbox.Dispatcher, store *outbox.PgStore, logger *slog.Logger) *DispatcherAdmin {
	return &DispatcherAdmin{dispatcher: dispatcher, store: store, logger: logger}
}

type dispatcherActionRequest struct {
	Action string `json:"action"`
}

func (a *DispatcherAdmin) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.writeStatus(w, r)
	case http.MethodPost:
		var req dispatcherActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		switch req.Action {
		case "pause":
			a.dispatcher.Pause()
			a.logger.Warn("outbox dispatcher paused by operator")
		case "resume":
			a.dispatcher.Resume()
			a.logger.Info("outbox dispatcher resumed by operator")
		default:
			http.Error(w, "action must be pause or resume", http.StatusBadRequest)
			return
		}
		a.writeStatus(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *DispatcherAdmin) writeStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"enabled": a.dispatcher.Enabled()}
	if a.store != nil {
		if pending, err := a.store.PendingCount(r.Context()); err == nil {
			status["pending"] = pending
		}
	}
	writeJSON(w, http.StatusOK, status)
}
