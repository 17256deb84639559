package escrowd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-ID"
	maxRequestBody       = 1 << 20
)

var bucketIdempotency = []byte("idempotency")

// ErrIdempotencyMismatch is returned when a key is reused with a different request.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// IdempotencyRecord stores the response cached for an idempotency key.
type IdempotencyRecord struct {
	RequestHash string    `json:"requestHash"`
	RequestID   string    `json:"requestId"`
	StatusCode  int       `json:"statusCode"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IdempotencyStore persists idempotent responses in BoltDB.
type IdempotencyStore struct {
	db    *bolt.DB
	ttl   time.Duration
	nowFn func() time.Time
}

func NewIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{db: db, ttl: ttl, nowFn: time.Now}, nil
}

func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func idempotencyKey(subject, key string) []byte {
	return []byte(subject + "\x00" + key)
}

// Lookup returns the cached response for key, nil when absent or expired,
// and ErrIdempotencyMismatch when the key was used for a different request.
func (s *IdempotencyStore) Lookup(subject, key, requestHash string) (*IdempotencyRecord, error) {
	var record *IdempotencyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIdempotency).Get(idempotencyKey(subject, key))
		if raw == nil {
			return nil
		}
		var stored IdempotencyRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return err
		}
		record = &stored
		return nil
	})
	if err != nil || record == nil {
		return nil, err
	}
	if s.nowFn().After(record.ExpiresAt) {
		return nil, nil
	}
	if record.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return record, nil
}

func (s *IdempotencyStore) Save(subject, key string, record IdempotencyRecord) error {
	now := s.nowFn()
	record.StoredAt = now
	record.ExpiresAt = now.Add(s.ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put(idempotencyKey(subject, key), payload)
	})
}

// Prune removes expired records and reports how many were deleted.
func (s *IdempotencyStore) Prune() (int, error) {
	now := s.nowFn()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketIdempotency)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var record IdempotencyRecord
			if err := json.Unmarshal(v, &record); err != nil || now.After(record.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func hashRequest(method, path string, body []byte) string {
	sum := blake3.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return hex.EncodeToString(sum[:])
}

// Idempotency replays stored responses for repeated Idempotency-Key headers
// on mutating requests. Requests without the header run normally.
func Idempotency(store *IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		inflight = make(map[string]struct{})
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(headerRequestID, requestID)

			key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
			if store == nil || key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
			_ = r.Body.Close()
			if err != nil || len(body) > maxRequestBody {
				writeError(w, fmt.Errorf("%w: request body unreadable or above %d bytes", errBadRequest, maxRequestBody))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			subject := principalFrom(r.Context()).Subject
			requestHash := hashRequest(r.Method, r.URL.Path, body)
			cached, err := store.Lookup(subject, key, requestHash)
			if err != nil {
				writeError(w, err)
				return
			}
			if cached != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			slot := string(idempotencyKey(subject, key))
			mu.Lock()
			if _, busy := inflight[slot]; busy {
				mu.Unlock()
				writeJSON(w, http.StatusConflict, errorBody{Code: "RequestInProgress", Error: "request with this idempotency key is in progress"})
				return
			}
			inflight[slot] = struct{}{}
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(inflight, slot)
				mu.Unlock()
			}()

			recorder := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			if recorder.status == 0 {
				recorder.status = http.StatusOK
			}
			if recorder.status >= http.StatusInternalServerError {
				return
			}
			if err := store.Save(subject, key, IdempotencyRecord{
				RequestHash: requestHash,
				RequestID:   requestID,
				StatusCode:  recorder.status,
				Body:        recorder.buf.Bytes(),
			}); err != nil {
				logger.Warn("escrowd: idempotency save failed", slog.String("request_id", requestID), slog.Any("error", err))
			}
		})
	}
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
