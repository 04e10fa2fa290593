package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/labloan-backend/api/responses"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/labloan-backend/pkg/redis"
)

const (
	// ReplayTTL keeps ordinary create/mark responses replayable for a day.
	ReplayTTL = 24 * time.Hour
	// DecisionReplayTTL covers admin decisions that move stock.
	DecisionReplayTTL = 7 * 24 * time.Hour

	idempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 128
)

// ReplayStore persists finished responses keyed by Idempotency-Key.
type ReplayStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Replay makes retried writes safe: a request repeating an Idempotency-Key
// with the same body gets the stored response, a different body gets 409.
// Requests without the header run normally.
type Replay struct {
	store ReplayStore
	logg  *logger.Logger
}

func NewReplay(store ReplayStore, logg *logger.Logger) *Replay {
	return &Replay{store: store, logg: logg}
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	BodyHash    string `json:"body_hash"`
}

// For returns the middleware for one route, remembering responses for ttl.
func (rp *Replay) For(ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rp == nil || rp.store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			idemKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(idemKey) > maxIdempotencyKey {
				responses.WriteError(ctx, rp.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long").
					WithDetails(map[string]any{"max_length": maxIdempotencyKey}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			bodyHash := hex.EncodeToString(sum[:])
			key := pkgredis.ReplayKey(UserIDFromContext(ctx)+":"+r.Method+":"+r.URL.Path, idemKey)

			raw, found, err := rp.store.Get(ctx, key)
			if err != nil {
				responses.WriteError(ctx, rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if found {
				rp.replay(w, r, raw, bodyHash)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				return
			}

			encoded, err := json.Marshal(storedResponse{
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.buf.Bytes(),
				BodyHash:    bodyHash,
			})
			if err == nil {
				_, err = rp.store.PutIfAbsent(ctx, key, string(encoded), ttl)
			}
			if err != nil && rp.logg != nil {
				rp.logg.Error(ctx, "store idempotent response", err)
			}
		})
	}
}

func (rp *Replay) replay(w http.ResponseWriter, r *http.Request, raw, bodyHash string) {
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(r.Context(), rp.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if stored.BodyHash != bodyHash {
		responses.WriteError(r.Context(), rp.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type captureWriter struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	wroteHeader bool
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
