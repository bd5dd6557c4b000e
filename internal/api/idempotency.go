package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/punchamoorthee/tenmo-ledger/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "Idempotent-Replay"

	// idempotencyLockTTL frees a key whose request crashed mid-flight.
	idempotencyLockTTL = 10 * time.Second

	responseKeyPrefix = "idempotency:"
	lockKeyPrefix     = "idempotency-lock:"
)

// replayedHeaders are restored along with the body when a response is replayed.
var replayedHeaders = []string{"Location"}

// CachedResponse is what a replay of an idempotent request sends back.
type CachedResponse struct {
	RequestHash string          `json:"requestHash"`
	Status      int               `json:"status"`
	Header      map[string]string `json:"header,omitempty"`
	Body        json.RawMessage   `json:"body"`
}

type IdempotencyStore interface {
	// Get returns the cached response for key, or ok == false when there is none.
	Get(ctx context.Context, key string) (resp CachedResponse, ok bool, err error)
	// Lock claims key for an in-flight request; false means someone holds it.
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Save(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
}

// RedisIdempotencyStore keeps cached responses and in-flight locks in Redis.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisClient connects and pings, failing fast on a bad address.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (CachedResponse, bool, error) {
	data, err := s.client.Get(ctx, responseKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, fmt.Errorf("get cached response: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return CachedResponse{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

func (s *RedisIdempotencyStore) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+key, "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire idempotency lock: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Unlock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency lock: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := s.client.Set(ctx, responseKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache response: %w", err)
	}
	return nil
}

// Idempotency replays the first successful response to a POST carrying an
// Idempotency-Key. Keys are scoped to the authenticated user and bound to
// the route and body they were first used with.
type Idempotency struct {
	store IdempotencyStore
	ttl   time.Duration
}

func NewIdempotency(store IdempotencyStore, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// captureWriter tees the response so it can be cached.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.status = http.StatusOK
	}
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Unreadable request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		// The path is part of the fingerprint so a key reused on another
		// route counts as a mismatch.
		h := sha256.New()
		h.Write([]byte(r.URL.Path + "\n"))
		h.Write(body)
		reqHash := hex.EncodeToString(h.Sum(nil))

		userID, _ := UserIDFromContext(r.Context())
		scoped := strconv.FormatInt(userID, 10) + ":" + key
		ctx := r.Context()

		if i.replayed(ctx, w, scoped, reqHash) {
			return
		}

		acquired, err := i.store.Lock(ctx, scoped, idempotencyLockTTL)
		if err != nil {
			logger.Log.Error("idempotency lock failed", logger.String("key", key), logger.Error(err))
			respondWithError(w, http.StatusServiceUnavailable, "Idempotency store unavailable")
			return
		}
		if !acquired {
			respondWithError(w, http.StatusConflict, "Request processing in progress")
			return
		}
		defer func() {
			if err := i.store.Unlock(context.WithoutCancel(ctx), scoped); err != nil {
				logger.Log.Warn("idempotency unlock failed", logger.String("key", key), logger.Error(err))
			}
		}()

		// The previous holder may have finished between the lookup and the lock.
		if i.replayed(ctx, w, scoped, reqHash) {
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		if cw.status < 200 || cw.status >= 300 {
			return
		}
		resp := CachedResponse{RequestHash: reqHash, Status: cw.status, Body: cw.body.Bytes()}
		for _, name := range replayedHeaders {
			if v := cw.Header().Get(name); v != "" {
				if resp.Header == nil {
					resp.Header = make(map[string]string)
				}
				resp.Header[name] = v
			}
		}
		if err := i.store.Save(context.WithoutCancel(ctx), scoped, resp, i.ttl); err != nil {
			logger.Log.Error("idempotency save failed", logger.String("key", key), logger.Error(err))
		}
	})
}

// replayed answers from the cache when key already has a response, and
// reports whether it wrote anything.
func (i *Idempotency) replayed(ctx context.Context, w http.ResponseWriter, key, reqHash string) bool {
	cached, ok, err := i.store.Get(ctx, key)
	if err != nil {
		logger.Log.Error("idempotency lookup failed", logger.String("key", key), logger.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "Idempotency store unavailable")
		return true
	}
	if !ok {
		return false
	}
	if cached.RequestHash != reqHash {
		respondWithError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload")
		return true
	}

	logger.Log.Info("idempotent replay", logger.String("key", key))
	for name, v := range cached.Header {
		w.Header().Set(name, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
	return true
}
