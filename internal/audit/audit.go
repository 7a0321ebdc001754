package audit

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// CollectionName holds one document per upstream call sequence.
const CollectionName = "upstream_calls"

// Outcomes recorded for an upstream call sequence.
const (
	OutcomeLocated       = "located"
	OutcomeNoObservation = "no_observation"
	OutcomeClientError   = "client_error"
	OutcomeExhausted     = "exhausted"
)

// maxDetailLen bounds the error text stored per entry.
const maxDetailLen = 512

type Entry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DeviceID   string             `bson:"device_id" json:"device_id"`
	UserID     string             `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Attempts   int                `bson:"attempts" json:"attempts"`
	StatusCode int                `bson:"status_code,omitempty" json:"status_code,omitempty"`
	Outcome    string             `bson:"outcome" json:"outcome"`
	DurationMS int64              `bson:"duration_ms" json:"duration_ms"`
	Detail     string             `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}

// Sink receives audit entries. Record must not block the caller.
type Sink interface {
	Record(entry Entry)
}

// NopSink drops entries; used when MongoDB is not configured.
type NopSink struct{}

func (NopSink) Record(Entry) {}

// MongoSink writes entries to MongoDB in the background.
type MongoSink struct {
	col    *mongo.Collection
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewMongoSink(db *mongo.Database, logger *zap.Logger) *MongoSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoSink{col: db.Collection(CollectionName), logger: logger}
}

// EnsureIndexes configures indexes for the upstream_calls collection.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "device_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_device_created"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_created_ttl").SetExpireAfterSeconds(int32((30 * 24 * time.Hour).Seconds())),
		},
	}

	_, err := s.col.Indexes().CreateMany(ctx, models)
	return err
}

// Record persists entry asynchronously; failures are logged. Entries
// recorded after Close are dropped.
func (s *MongoSink) Record(entry Entry) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("audit sink closed, dropping entry", zap.String("device_id", entry.DeviceID))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func(e Entry) {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.write(ctx, e); err != nil {
			s.logger.Warn("failed to write upstream audit entry",
				zap.String("device_id", e.DeviceID),
				zap.Error(err))
		}
	}(entry)
}

func (s *MongoSink) write(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Detail = truncate(e.Detail, maxDetailLen)
	_, err := s.col.InsertOne(ctx, e)
	return err
}

// Close stops accepting entries and waits for pending writes or until ctx
// is done.
func (s *MongoSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
