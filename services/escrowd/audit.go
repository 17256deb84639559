package escrowd

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"bountyescrow/core/events"
	"bountyescrow/observability/metrics"
)

// ErrChainBroken reports an audit row whose hash does not match its contents.
var ErrChainBroken = errors.New("audit chain broken")

// AuditRecord is one engine event in the hash-chained audit trail.
type AuditRecord struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Seq        uint64    `gorm:"uniqueIndex;not null" json:"seq"`
	Type       string    `gorm:"index;not null" json:"type"`
	Attributes string    `gorm:"type:text;not null" json:"attributes"`
	PrevHash   string    `gorm:"type:varchar(64);not null" json:"prevHash"`
	Hash       string    `gorm:"type:varchar(64);not null" json:"hash"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (AuditRecord) TableName() string { return "audit_records" }

// OpenAuditDB opens the audit database. Postgres URLs and key/value DSNs use
// the postgres driver; anything else is a sqlite path. An empty DSN gives a
// private in-memory sqlite database.
func OpenAuditDB(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	dsn = strings.TrimSpace(dsn)
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.HasPrefix(dsn, "host="):
		dialector = postgres.Open(dsn)
	case dsn == "":
		dialector = sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	default:
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return db, nil
}

// AuditStore appends engine events to the database, chaining each row to the
// previous one with a BLAKE3 hash. It implements events.Emitter.
type AuditStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.AuditMetrics
	nowFn   func() time.Time

	mu       sync.Mutex
	seq      uint64
	lastHash string
}

func NewAuditStore(db *gorm.DB, log *slog.Logger) (*AuditStore, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	store := &AuditStore{db: db, logger: log, metrics: metrics.Audit(), nowFn: time.Now}
	var last AuditRecord
	err := db.Order("seq desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("audit: load head: %w", err)
	}
	if last.ID != "" {
		store.seq = last.Seq
		store.lastHash = last.Hash
	}
	return store, nil
}

func chainHash(prev string, seq uint64, eventType, attributes string) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(prev))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(eventType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(attributes))
	return hex.EncodeToString(h.Sum(nil))
}

// Emit implements events.Emitter. Persistence failures are logged and counted;
// the engine operation that produced the event has already committed.
func (s *AuditStore) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt); err != nil {
		s.logger.Error("escrowd: audit append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Append stores evt and returns the chained row.
func (s *AuditStore) Append(ctx context.Context, evt events.Event) (*AuditRecord, error) {
	flat := events.Flatten(evt)
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		s.metrics.IncFailure("encode")
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq + 1
	record := &AuditRecord{
		ID:         uuid.NewString(),
		Seq:        seq,
		Type:       flat.Type,
		Attributes: string(attrs),
		PrevHash:   s.lastHash,
		CreatedAt:  s.nowFn().UTC(),
	}
	record.Hash = chainHash(record.PrevHash, seq, record.Type, record.Attributes)
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.metrics.IncFailure("insert")
		return nil, err
	}
	s.seq = seq
	s.lastHash = record.Hash
	s.metrics.ObserveAppended(record.Type)
	return record, nil
}

// List returns up to limit rows with Seq greater than after, oldest first.
func (s *AuditStore) List(ctx context.Context, after uint64, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var rows []AuditRecord
	err := s.db.WithContext(ctx).Where("seq > ?", after).Order("seq asc").Limit(limit).Find(&rows).Error
	return rows, err
}

// Head returns the sequence and hash of the latest row.
func (s *AuditStore) Head() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.lastHash
}

// Verify walks the whole trail and checks every link.
func (s *AuditStore) Verify(ctx context.Context) (uint64, error) {
	var (
		after    uint64
		prevHash string
		checked  uint64
	)
	for {
		rows, err := s.List(ctx, after, 500)
		if err != nil {
			return checked, err
		}
		if len(rows) == 0 {
			return checked, nil
		}
		for _, row := range rows {
			if row.Seq != after+1 || row.PrevHash != prevHash {
				return checked, fmt.Errorf("%w: row %d does not follow %d", ErrChainBroken, row.Seq, after)
			}
			if chainHash(row.PrevHash, row.Seq, row.Type, row.Attributes) != row.Hash {
				return checked, fmt.Errorf("%w: row %d hash mismatch", ErrChainBroken, row.Seq)
			}
			after = row.Seq
			prevHash = row.Hash
			checked++
		}
	}
}
