package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/clipdeck/clipdeck/libs/httpx"
)

// Header is the client-supplied retry token. Without it the middleware is a
// pass-through; replay only engages when the client asks for it.
const Header = "Idempotency-Key"

const ReplayHeader = "X-Idempotency-Replay"

// maxBodyBytes caps the request body read for hashing/buffering. Requests
// beyond it bypass the idempotency cache rather than failing.
const maxBodyBytes = 1 << 20

// Middleware caches responses of state-changing requests by idempotency key.
//
// A cache hit replays the stored status and body verbatim, without invoking
// the wrapped handler. A key reused with a different request hash is a client
// error (409), never a silent overwrite and never a cached replay. When two
// retries of the same request race past the cache miss, the uniqueness
// constraint picks a winner and the loser replays the winner's stored response
// (read-after-write).
func Middleware(store Store, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !stateChanging(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				http.Error(w, "unable to read request body", http.StatusBadRequest)
				return
			}
			if len(body) > maxBodyBytes {
				// Too large to buffer; execute without caching.
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(r.Method, r.URL.RequestURI(), body)

			rec, err := store.Lookup(r.Context(), key, hash)
			switch {
			case err == nil:
				replay(w, rec)
				return
			case errors.Is(err, ErrKeyReuse):
				logger.Warn("idempotency key reused for a different request", "key", key)
				writeConflict(w, "IDEMPOTENCY_KEY_REUSED",
					"this Idempotency-Key was already used for a different request")
				return
			case errors.Is(err, ErrNotFound):
				// fall through and execute
			default:
				logger.Error("idempotency lookup failed", "err", err)
				http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
				return
			}

			execute(next, w, r, store, logger, key, hash)
		})
	}
}

// execute runs the handler against a buffer, persists the outcome, and writes
// the response that ends up cached, so the first caller and every replayer
// observe identical bytes.
func execute(next http.Handler, w http.ResponseWriter, r *http.Request, store Store, logger *slog.Logger, key, hash string) {
	rw := &bufferingResponseWriter{header: make(http.Header), status: http.StatusOK}
	next.ServeHTTP(rw, r)

	err := store.Save(r.Context(), key, hash, rw.status, rw.header.Get("Content-Type"), rw.buf.Bytes())
	if err == nil {
		writeCaptured(w, rw)
		return
	}
	if errors.Is(err, ErrDuplicate) {
		// A concurrent retry won the insert; serve its response so both
		// callers observe identical bytes.
		stored, lookupErr := store.Lookup(r.Context(), key, hash)
		if lookupErr == nil {
			replay(w, stored)
			return
		}
		logger.Error("idempotency read-after-write failed", "key", key, "err", lookupErr)
		writeConflict(w, "IDEMPOTENCY_RACE", "concurrent request with the same Idempotency-Key, retry")
		return
	}
	// Storing failed: the response is still valid, the retry just won't replay.
	logger.Error("idempotency save failed", "key", key, "err", err)
	writeCaptured(w, rw)
}

func writeCaptured(w http.ResponseWriter, rw *bufferingResponseWriter) {
	for k, vals := range rw.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rw.status)
	_, _ = w.Write(rw.buf.Bytes())
}

func replay(w http.ResponseWriter, rec Record) {
	ct := rec.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

func writeConflict(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_, _ = w.Write([]byte(`{"error":"` + code + `","message":"` + msg + `"}`))
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func requestHash(method, uri string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(uri))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type bufferingResponseWriter struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func (w *bufferingResponseWriter) Header() http.Header { return w.header }

func (w *bufferingResponseWriter) WriteHeader(code int) { w.status = code }

func (w *bufferingResponseWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}
