package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck/libs/httpx"
	"github.com/clipdeck/clipdeck/libs/saga"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/model"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/sagas"
	"github.com/clipdeck/clipdeck/services/profile-service/internal/storage"
)

type ProfileHandler struct {
	deps   sagas.Deps
	repo   *storage.ProfileRepository
	exec   saga.ExecFunc
	logger *slog.Logger
}

func NewProfileHandler(deps sagas.Deps, repo *storage.ProfileRepository, exec saga.ExecFunc, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{deps: deps, repo: repo, exec: exec, logger: logger}
}

type createProfileRequest struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url"`
}

type updateProfileRequest struct {
	ProfileID   string `json:"profile_id"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url"`
}

type profileResponse struct {
	ProfileID   string `json:"profile_id"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at"`
}

func statusForCode(code string) int {
	switch code {
	case sagas.CodeProfileInvalid:
		return http.StatusBadRequest
	case sagas.CodeProfileNotFound:
		return http.StatusNotFound
	case sagas.CodeVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		http.Error(w, "display_name required", http.StatusBadRequest)
		return
	}

	p := &model.Profile{
		ID:          uuid.NewString(),
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   strings.TrimSpace(req.AvatarURL),
	}
	if err := h.repo.Insert(r.Context(), p); err != nil {
		h.logger.Error("profile insert failed", "err", err)
		http.Error(w, "failed to create profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(*p))
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	if req.ProfileID == "" {
		http.Error(w, "profile_id required", http.StatusBadRequest)
		return
	}

	sc, steps := sagas.UpdateProfile(h.deps, sagas.UpdateProfileParams{
		ProfileID:     req.ProfileID,
		DisplayName:   req.DisplayName,
		Bio:           req.Bio,
		AvatarURL:     strings.TrimSpace(req.AvatarURL),
		CorrelationID: httpx.RequestIDFromContext(r.Context()),
	})
	if err := h.exec(r.Context(), sc, steps); err != nil {
		h.writeSagaError(w, err)
		return
	}

	p, err := h.repo.Get(r.Context(), req.ProfileID)
	if err != nil {
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	p, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProfileHandler) writeSagaError(w http.ResponseWriter, err error) {
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

func toResponse(p model.Profile) profileResponse {
	return profileResponse{
		ProfileID:   p.ID,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}
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
