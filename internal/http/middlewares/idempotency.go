package middlewares

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/loanhub/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyReplayed  = "Idempotent-Replayed"

	// how long an in-flight request holds the key before another attempt may take it
	provisionalLockTTL = 60 * time.Second
	storeTimeout       = 2 * time.Second
	maxIdempotencyKey  = 255
)

type idempEntry struct {
	InProgress  bool      `json:"in_progress"`
	Code        int       `json:"code,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	BodySHA256  string    `json:"body_sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

type bodyCapture struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// The key is scoped by method, route and caller. Requests without the header,
// or with a nil client, pass straight through. Error responses are not stored,
// so a retry after a failure executes again.
func Idempotency(rdb *redis.Client, ttl time.Duration, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if idemKey == "" {
			c.Next()
			return
		}
		if len(idemKey) > maxIdempotencyKey {
			Fail(c, apperr.Validation("Idempotency-Key is too long", gin.H{"max": maxIdempotencyKey}))
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				Fail(c, apperr.Validation("Request body could not be read", nil))
				return
			}
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		bhash := bodyHash(body)

		caller, _ := UserIDFromContext(c)
		if caller == "" {
			caller = "anon"
		}
		key := buildIdempotencyKey(c.Request.Method, c.FullPath(), caller, idemKey)

		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()

		ok, err := provisionalSet(ctx, rdb, key, idempEntry{
			InProgress: true,
			BodySHA256: bhash,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			log.WarnContext(c.Request.Context(), "idempotency.store_error", "err", err)
			Fail(c, apperr.Unavailable("Idempotency store unavailable"))
			return
		}

		if !ok {
			cur, err := loadEntry(ctx, rdb, key)
			if err != nil && !errors.Is(err, redis.Nil) {
				log.WarnContext(c.Request.Context(), "idempotency.load_error", "key", key, "err", err)
			}

			if cur.BodySHA256 != "" && cur.BodySHA256 != bhash {
				Fail(c, apperr.Conflict("idempotency_key_reused", "Idempotency-Key reused with a different body"))
				return
			}
			if !cur.InProgress && cur.Code != 0 {
				c.Header(idempotencyReplayed, "true")
				c.Data(cur.Code, cur.ContentType, cur.Body)
				c.Abort()
				return
			}
			Fail(c, apperr.Conflict("request_in_progress", "Request is already in progress"))
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = capture

		c.Next()

		// detached: the client may have gone away but the outcome must be recorded
		storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), storeTimeout)
		defer storeCancel()

		status := capture.Status()
		if len(c.Errors) > 0 || !capture.Written() || status >= http.StatusInternalServerError {
			if err := rdb.Del(storeCtx, key).Err(); err != nil {
				log.WarnContext(c.Request.Context(), "idempotency.release_error", "key", key, "err", err)
			}
			return
		}

		final := idempEntry{
			Code:        status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.buf.Bytes(),
			BodySHA256:  bhash,
			CreatedAt:   time.Now().UTC(),
		}
		if err := saveFinal(storeCtx, rdb, key, final, ttl); err != nil {
			log.WarnContext(c.Request.Context(), "idempotency.save_error", "key", key, "err", err)
		}
	}
}

func buildIdempotencyKey(method, route, caller, key string) string {
	return "loanhub:idem:" + method + ":" + route + ":" + caller + ":" + key
}

func bodyHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func provisionalSet(ctx context.Context, rdb *redis.Client, key string, e idempEntry) (bool, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return rdb.SetNX(ctx, key, data, provisionalLockTTL).Result()
}

func loadEntry(ctx context.Context, rdb *redis.Client, key string) (idempEntry, error) {
	var e idempEntry

	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(raw, &e)
	return e, err
}

func saveFinal(ctx context.Context, rdb *redis.Client, key string, e idempEntry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, data, ttl).Err()
}
