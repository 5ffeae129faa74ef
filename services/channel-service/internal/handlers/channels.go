package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clipdeck/clipdeck/libs/httpx"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/model"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/sagas"
	"github.com/clipdeck/clipdeck/services/channel-service/internal/storage"
)

type ChannelHandler struct {
	deps   sagas.Deps
	repo   *storage.ChannelRepository
	exec   saga.ExecFunc
	logger *slog.Logger
}

func NewChannelHandler(deps sagas.Deps, repo *storage.ChannelRepository, exec saga.ExecFunc, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{deps: deps, repo: repo, exec: exec, logger: logger}
}

type createChannelRequest struct {
	Handle      string `json:"handle"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createChannelResponse struct {
	ChannelID string `json:"channel_id"`
	Handle    string `json:"handle"`
}

type changeHandleRequest struct {
	ChannelID string `json:"channel_id"`
	NewHandle string `json:"new_handle"`
}

type updateBrandingRequest struct {
	ChannelID string         `json:"channel_id"`
	Branding  model.Branding `json:"branding"`
}

type setMemberRoleRequest struct {
	ChannelID string `json:"channel_id"`
	ProfileID string `json:"profile_id"`
	Role      string `json:"role"`
}

type channelResponse struct {
	ChannelID          string         `json:"channel_id"`
	Handle             string         `json:"handle"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Branding           model.Branding `json:"branding"`
	OwnerProfileID     string         `json:"owner_profile_id"`
	Version            int64          `json:"version"`
	LastHandleChangeAt string         `json:"last_handle_change_at,omitempty"`
	CreatedAt          string         `json:"created_at"`
}

// statusForCode maps saga failure codes to HTTP statuses. Unknown codes land
// on 500 so a new business rule never silently turns into a client error.
func statusForCode(code string) int {
	switch code {
	case sagas.CodeHandleInvalid, sagas.CodeRoleInvalid:
		return http.StatusBadRequest
	case sagas.CodeChannelNotFound:
		return http.StatusNotFound
	case sagas.CodeOwnerRequired:
		return http.StatusForbidden
	case sagas.CodeHandleTaken, sagas.CodeVersionConflict, sagas.CodeHandleUnchanged, sagas.CodeLastOwner:
		return http.StatusConflict
	case sagas.CodeHandleCooldown:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor := actorProfileID(r)
	if actor == "" {
		http.Error(w, "X-Profile-Id required", http.StatusUnauthorized)
		return
	}

	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Handle = strings.TrimSpace(req.Handle)
	req.Title = strings.TrimSpace(req.Title)
	if req.Handle == "" || req.Title == "" {
		http.Error(w, "handle and title required", http.StatusBadRequest)
		return
	}

	sc, steps := sagas.CreateChannel(h.deps, sagas.CreateChannelParams{
		OwnerProfileID: actor,
		Handle:         req.Handle,
		Title:          req.Title,
		Description:    strings.TrimSpace(req.Description),
		CorrelationID:  httpx.RequestIDFromContext(r.Context()),
	})
	if err := h.exec(r.Context(), sc, steps); err != nil {
		h.writeSagaError(w, err)
		return
	}

	id, _ := saga.Value[string](sc, "channel_id")
	writeJSON(w, http.StatusCreated, createChannelResponse{ChannelID: id, Handle: req.Handle})
}

func (h *ChannelHandler) ChangeHandle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor := actorProfileID(r)
	if actor == "" {
		http.Error(w, "X-Profile-Id required", http.StatusUnauthorized)
		return
	}

	var req changeHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	req.NewHandle = strings.TrimSpace(req.NewHandle)
	if req.ChannelID == "" || req.NewHandle == "" {
		http.Error(w, "channel_id and new_handle required", http.StatusBadRequest)
		return
	}

	sc, steps := sagas.ChangeHandle(h.deps, sagas.ChangeHandleParams{
		ChannelID:      req.ChannelID,
		NewHandle:      req.NewHandle,
		ActorProfileID: actor,
		CorrelationID:  httpx.RequestIDFromContext(r.Context()),
	})
	if err := h.exec(r.Context(), sc, steps); err != nil {
		h.writeSagaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"channel_id": req.ChannelID,
		"handle":     req.NewHandle,
	})
}

func (h *ChannelHandler) UpdateBranding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateBrandingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" {
		http.Error(w, "channel_id required", http.StatusBadRequest)
		return
	}

	sc, steps := sagas.UpdateBranding(h.deps, sagas.UpdateBrandingParams{
		ChannelID:     req.ChannelID,
		Branding:      req.Branding,
		CorrelationID: httpx.RequestIDFromContext(r.Context()),
	})
	if err := h.exec(r.Context(), sc, steps); err != nil {
		h.writeSagaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": req.ChannelID,
		"branding":   req.Branding,
	})
}

func (h *ChannelHandler) SetMemberRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor := actorProfileID(r)
	if actor == "" {
		http.Error(w, "X-Profile-Id required", http.StatusUnauthorized)
		return
	}

	var req setMemberRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ChannelID == "" || req.ProfileID == "" || req.Role == "" {
		http.Error(w, "channel_id, profile_id, and role required", http.StatusBadRequest)
		return
	}

	sc, steps := sagas.SetMemberRole(h.deps, sagas.SetMemberRoleParams{
		ChannelID:       req.ChannelID,
		ActorProfileID:  actor,
		TargetProfileID: req.ProfileID,
		Role:            model.Role(req.Role),
		CorrelationID:   httpx.RequestIDFromContext(r.Context()),
	})
	if err := h.exec(r.Context(), sc, steps); err != nil {
		h.writeSagaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"channel_id": req.ChannelID,
		"profile_id": req.ProfileID,
		"role":       req.Role,
	})
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	ch, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load channel", http.StatusInternalServerError)
		return
	}

	resp := channelResponse{
		ChannelID:      ch.ID,
		Handle:         ch.Handle,
		Title:          ch.Title,
		Description:    ch.Description,
		Branding:       ch.Branding,
		OwnerProfileID: ch.OwnerProfileID,
		Version:        ch.Version,
		CreatedAt:      ch.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ch.LastHandleChangeAt != nil {
		resp.LastHandleChangeAt = ch.LastHandleChangeAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChannelHandler) writeSagaError(w http.ResponseWriter, err error) {
	var ee *saga.ExecutionError
	if !errors.As(err, &ee) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := statusForCode(ee.Code)
	msg := "internal error"
	if status != http.StatusInternalServerError {
		msg = ee.Err.Error()
	}
	writeJSON(w, status, map[string]string{
		"code":  ee.Code,
		"error": msg,
	})
}

func actorProfileID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Profile-Id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
