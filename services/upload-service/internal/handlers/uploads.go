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
	"github.com/clipdeck/clipdeck/services/upload-service/internal/model"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/sagas"
	"github.com/clipdeck/clipdeck/services/upload-service/internal/storage"
)

type UploadHandler struct {
	deps   sagas.Deps
	repo   *storage.UploadRepository
	quotas *storage.QuotaRepository
	exec   saga.ExecFunc
	logger *slog.Logger
}

func NewUploadHandler(deps sagas.Deps, repo *storage.UploadRepository, quotas *storage.QuotaRepository, exec saga.ExecFunc, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{deps: deps, repo: repo, quotas: quotas, exec: exec, logger: logger}
}

type initializeUploadRequest struct {
	ChannelID string `json:"channel_id"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

type initializeUploadResponse struct {
	UploadID  string `json:"upload_id"`
	ChannelID string `json:"channel_id"`
	Status    string `json:"status"`
}

type uploadResponse struct {
	UploadID          string `json:"upload_id"`
	ChannelID         string `json:"channel_id"`
	UploaderProfileID string `json:"uploader_profile_id"`
	Filename          string `json:"filename"`
	SizeBytes         int64  `json:"size_bytes"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`
}

type quotaResponse struct {
	ChannelID        string `json:"channel_id"`
	MaxActiveUploads int32  `json:"max_active_uploads"`
	MaxTotalBytes    int64  `json:"max_total_bytes"`
	ActiveUploads    int32  `json:"active_uploads"`
	UsedBytes        int64  `json:"used_bytes"`
}

func statusForCode(code string) int {
	switch code {
	case sagas.CodeUploadInvalid:
		return http.StatusBadRequest
	case sagas.CodeChannelUnknown:
		return http.StatusNotFound
	case sagas.CodeQuotaExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *UploadHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uploader := strings.TrimSpace(r.Header.Get("X-Profile-Id"))
	if uploader == "" {
		http.Error(w, "X-Profile-Id required", http.StatusUnauthorized)
		return
	}

	var req initializeUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" {
		http.Error(w, "channel_id required", http.StatusBadRequest)
		return
	}

	sc, steps := sagas.InitializeUpload(h.deps, sagas.InitializeUploadParams{
		ChannelID:         req.ChannelID,
		UploaderProfileID: uploader,
		Filename:          req.Filename,
		SizeBytes:         req.SizeBytes,
		CorrelationID:     httpx.RequestIDFromContext(r.Context()),
	})
	if err := h.exec(r.Context(), sc, steps); err != nil {
		h.writeSagaError(w, err)
		return
	}

	id, _ := saga.Value[string](sc, "upload_id")
	writeJSON(w, http.StatusCreated, initializeUploadResponse{
		UploadID:  id,
		ChannelID: req.ChannelID,
		Status:    model.StatusInitialized,
	})
}

func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	u, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "upload not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load upload", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		UploadID:          u.ID,
		ChannelID:         u.ChannelID,
		UploaderProfileID: u.UploaderProfileID,
		Filename:          u.Filename,
		SizeBytes:         u.SizeBytes,
		Status:            u.Status,
		CreatedAt:         u.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *UploadHandler) Quota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channelID := strings.TrimSpace(r.URL.Query().Get("channel_id"))
	if channelID == "" {
		http.Error(w, "channel_id required", http.StatusBadRequest)
		return
	}

	q, err := h.quotas.Get(r.Context(), channelID)
	if errors.Is(err, storage.ErrNoQuota) {
		http.Error(w, "no quota for channel", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load quota", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{
		ChannelID:        q.ChannelID,
		MaxActiveUploads: q.MaxActiveUploads,
		MaxTotalBytes:    q.MaxTotalBytes,
		ActiveUploads:    q.ActiveUploads,
		UsedBytes:        q.UsedBytes,
	})
}

func (h *UploadHandler) writeSagaError(w http.ResponseWriter, err error) {
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
