package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"grit-ledger-api/internal/cache"
	"grit-ledger-api/pkg/apierror"
)

// IdempotencyHeader is the request header carrying the client's key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyConfig holds configuration for the idempotency middleware.
type IdempotencyConfig struct {
	Cache  cache.Cache
	TTL    time.Duration
	Logger *slog.Logger
}

type storedResponse struct {
	Pending     bool   `json:"pending"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the stored response of a POST that repeats an
// Idempotency-Key, so a retried bid or settlement is applied once. Keys are
// scoped to the API key and path. Server errors are not stored, so those
// requests may be retried.
func Idempotency(cfg IdempotencyConfig) func(http.Handler) http.Handler {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "idempotency")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || idemKey == "" || cfg.Cache == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(idemKey) > 255 {
				writeError(w, apierror.BadRequest("Idempotency-Key must be at most 255 characters"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, apierror.BadRequest("failed to read request body"))
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			key := cacheKey(APIKey(r), r.URL.Path, idemKey)
			reqHash := digest(body)

			pending, _ := json.Marshal(storedResponse{Pending: true, RequestHash: reqHash})
			claimed, err := cfg.Cache.SetNX(ctx, key, pending, cfg.TTL)
			if err != nil {
				logger.Warn("cache unavailable, serving without replay", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !claimed {
				replay(w, r, cfg.Cache, key, reqHash, logger)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 500 {
				if err := cfg.Cache.Delete(ctx, key); err != nil {
					logger.Warn("failed to release idempotency key", "error", err)
				}
				return
			}
			done, _ := json.Marshal(storedResponse{
				RequestHash: reqHash,
				Status:      rec.statusCode,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err := cfg.Cache.Set(ctx, key, done, cfg.TTL); err != nil {
				logger.Warn("failed to store response", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, c cache.Cache, key, reqHash string, logger *slog.Logger) {
	data, err := c.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			writeError(w, apierror.Conflict("request with this Idempotency-Key is still in progress"))
			return
		}
		logger.Warn("failed to read stored response", "error", err)
		writeError(w, apierror.ServiceUnavailable(""))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		writeError(w, apierror.InternalError("corrupt stored response"))
		return
	}
	if stored.RequestHash != reqHash {
		writeError(w, apierror.Unprocessable("IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was used with a different request body"))
		return
	}
	if stored.Pending {
		writeError(w, apierror.Conflict("request with this Idempotency-Key is still in progress"))
		return
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
}

func cacheKey(apiKey, path, idemKey string) string {
	return "idem:" + digest([]byte(apiKey+"\x00"+path+"\x00"+idemKey))
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// recordingWriter passes the response through while keeping a copy.
type recordingWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
