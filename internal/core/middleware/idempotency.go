package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	keyPrefix     = "idempotency:"
	inFlightValue = "in-flight"
	maxKeyLength  = 255
)

type cachedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// A key reused with a different body is rejected. 5xx responses are not
// stored so the client can retry.
func Idempotency(client *redis.Client, ttl time.Duration, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "idempotency key too long")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "cannot read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := fingerprintOf(r, body)

			ctx := r.Context()
			redisKey := keyPrefix + r.Method + ":" + r.URL.Path + ":" + key

			reserved, err := client.SetNX(ctx, redisKey, inFlightValue, ttl).Result()
			if err != nil {
				log.Error("Idempotency store unavailable", logger.StringField("key", key), logger.ErrorField("error", err))
				writeError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable")
				return
			}

			if !reserved {
				replay(w, client, r, redisKey, key, fingerprint, log)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The handler may have committed; a client hanging up must not
			// leave the key stuck in flight.
			ctx = context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError {
				if err := client.Del(ctx, redisKey).Err(); err != nil {
					log.Error("Failed to release idempotency key", logger.StringField("key", key), logger.ErrorField("error", err))
				}
				return
			}

			stored, err := json.Marshal(cachedResponse{Fingerprint: fingerprint, Status: rec.status, Body: rec.body.Bytes()})
			if err == nil {
				err = client.Set(ctx, redisKey, stored, ttl).Err()
			}
			if err != nil {
				log.Error("Failed to save idempotent response", logger.StringField("key", key), logger.ErrorField("error", err))
				return
			}
			log.Debug("Idempotent response saved", logger.StringField("key", key), logger.IntField("status", rec.status))
		})
	}
}

func replay(w http.ResponseWriter, client *redis.Client, r *http.Request, redisKey, key, fingerprint string, log logger.Logger) {
	raw, err := client.Get(r.Context(), redisKey).Result()
	if errors.Is(err, redis.Nil) {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "request with this idempotency key expired mid-flight, retry")
		return
	}
	if err != nil {
		log.Error("Idempotency store unavailable", logger.StringField("key", key), logger.ErrorField("error", err))
		writeError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable")
		return
	}
	if raw == inFlightValue {
		writeError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "request with this idempotency key is in progress")
		return
	}

	var cached cachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		log.Error("Corrupt idempotent response", logger.StringField("key", key), logger.ErrorField("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	if cached.Fingerprint != fingerprint {
		writeError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "idempotency key was used with a different request")
		return
	}

	log.Info("Replaying idempotent response", logger.StringField("key", key))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
