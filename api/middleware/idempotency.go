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
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/marketledger-backend/pkg/redis"
)

// Replay windows for Idempotent. Anything that moves money keeps its key
// for a week.
const (
	StandardReplayTTL = 24 * time.Hour
	MoneyReplayTTL    = 7 * 24 * time.Hour

	// reservationTTL bounds how long a crashed request can block its key.
	reservationTTL = time.Minute
)

const (
	stateReserved = "in_flight"
	stateDone     = "done"
)

// IdempotencyStore is the Redis surface the middleware needs. Set overwrites
// the reservation with the final response.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type storedResponse struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent makes a route safe to retry. The Idempotency-Key header is
// required; the key is reserved before the handler runs so a concurrent
// duplicate gets 409, a finished response is replayed for ttl, and a 5xx
// releases the key so the client can retry. A nil store disables it.
func Idempotent(store IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		g := &idempotencyGuard{store: store, ttl: ttl, logg: logg, next: next}
		return http.HandlerFunc(g.serve)
	}
}

type idempotencyGuard struct {
	store IdempotencyStore
	ttl   time.Duration
	logg  *logger.Logger
	next  http.Handler
}

func (g *idempotencyGuard) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if clientKey == "" {
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	key := g.store.IdempotencyKey(strings.Join([]string{UserIDFromContext(ctx), r.Method, r.URL.Path}, "|"), clientKey)

	reservation, _ := json.Marshal(storedResponse{State: stateReserved, RequestHash: hash})
	reserved, err := g.store.SetNX(ctx, key, string(reservation), min(g.ttl, reservationTTL))
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
		return
	}
	if !reserved {
		g.replay(w, r, key, hash)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	g.next.ServeHTTP(capture, r)
	g.finish(ctx, key, hash, capture)
}

// finish stores the captured response, or frees the key after a 5xx.
func (g *idempotencyGuard) finish(ctx context.Context, key, hash string, capture *responseCapture) {
	// the client may have gone away; the record must still land
	ctx = context.WithoutCancel(ctx)
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		if err := g.store.Del(ctx, key); err != nil {
			g.logError(ctx, "release idempotency key", err)
		}
		return
	}
	payload, err := json.Marshal(storedResponse{
		State:       stateDone,
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = g.store.Set(ctx, key, string(payload), g.ttl)
	}
	if err != nil {
		g.logError(ctx, "persist idempotency record", err)
	}
}

func (g *idempotencyGuard) replay(w http.ResponseWriter, r *http.Request, key, hash string) {
	ctx := r.Context()
	raw, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		// the reservation expired between SetNX and Get
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in flight"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.State != stateDone:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in flight"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func (g *idempotencyGuard) logError(ctx context.Context, msg string, err error) {
	if g.logg != nil {
		g.logg.Error(ctx, msg, err)
	}
}

// responseCapture tees the handler's response so it can be stored.
type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
