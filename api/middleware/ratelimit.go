package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/labloan-backend/api/responses"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/labloan-backend/pkg/redis"
)

// RateCounter counts hits per key in fixed windows.
type RateCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit caps authenticated API traffic per user; requests without a user
// are counted per client IP.
func RateLimit(counter RateCounter, limit int, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := UserIDFromContext(r.Context())
			if subject == "" {
				subject = "ip:" + clientIP(r)
			}
			if !admit(w, r, counter, logg, pkgredis.RateKey("api", subject), limit, window) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthRateLimitPolicy throttles login or registration attempts per client IP
// and per college id. A zero limit disables that dimension.
type AuthRateLimitPolicy struct {
	Name         string
	Window       time.Duration
	PerIP        int
	PerCollegeID int
}

// AuthRateLimit applies policy before the auth handlers run. The college id is
// read from the JSON body and counted under a hash so raw ids never reach Redis.
func AuthRateLimit(policy AuthRateLimitPolicy, counter RateCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || policy.Window <= 0 || (policy.PerIP <= 0 && policy.PerCollegeID <= 0) {
			return next
		}
		name := "auth:" + strings.ToLower(policy.Name)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if policy.PerIP > 0 {
				if !admit(w, r, counter, logg, pkgredis.RateKey(name, "ip:"+clientIP(r)), policy.PerIP, policy.Window) {
					return
				}
			}
			if policy.PerCollegeID > 0 {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				if id := collegeIDDigest(body); id != "" {
					if !admit(w, r, counter, logg, pkgredis.RateKey(name, "college:"+id), policy.PerCollegeID, policy.Window) {
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// admit counts one hit on key and writes a 429 when the window is full.
func admit(w http.ResponseWriter, r *http.Request, counter RateCounter, logg *logger.Logger, key string, limit int, window time.Duration) bool {
	ctx := r.Context()
	hits, err := counter.Hit(ctx, key, window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if hits <= int64(limit) {
		return true
	}
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"rate_key": key,
			"hits":     hits,
			"limit":    limit,
			"window":   window.String(),
		}), "rate limit exceeded")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return false
}

func collegeIDDigest(body []byte) string {
	var payload struct {
		CollegeID string `json:"college_id"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	id := strings.ToLower(strings.TrimSpace(payload.CollegeID))
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:12])
}

// clientIP prefers the first X-Forwarded-For hop set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
