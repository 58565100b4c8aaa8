package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"stayalert/internal/microservices/relay"
)

// ErrSinkClosed is returned by Record after Close.
var ErrSinkClosed = errors.New("reading sink is closed")

// ReadingRecord is the row stored for every reading.
type ReadingRecord struct {
	ID           uint64    `gorm:"primaryKey"`
	ConnectionID string    `gorm:"size:36;not null"`
	Role         string    `gorm:"size:64;not null;index"`
	Distance     float64   `gorm:"not null"`
	Data         string    `gorm:"type:jsonb"`
	Leds         string    `gorm:"type:jsonb"`
	Forwarded    bool      `gorm:"not null"`
	ReceivedAt   time.Time `gorm:"not null;index"`
}

func (ReadingRecord) TableName() string {
	return "readings"
}

// newReadingRecord converts a relay reading into its table row.
func newReadingRecord(r relay.Reading) (ReadingRecord, error) {
	leds, err := json.Marshal(r.Leds)
	if err != nil {
		return ReadingRecord{}, fmt.Errorf("failed to marshal leds: %w", err)
	}
	data := string(r.Data)
	if data == "" {
		data = "null"
	}
	return ReadingRecord{
		ConnectionID: r.ConnectionID,
		Role:         r.Role,
		Distance:     r.Distance,
		Data:         data,
		Leds:         string(leds),
		Forwarded:    r.Forwarded,
		ReceivedAt:   r.ReceivedAt,
	}, nil
}

// ReadingStore writes reading rows.
type ReadingStore interface {
	InsertBatch(ctx context.Context, batch []ReadingRecord) error
}

// GormReadingStore stores readings through GORM.
type GormReadingStore struct {
	db *gorm.DB
}

// NewGormReadingStore migrates the readings table and returns the store.
func NewGormReadingStore(db *gorm.DB) (*GormReadingStore, error) {
	if err := db.AutoMigrate(&ReadingRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate readings table: %w", err)
	}
	return &GormReadingStore{db: db}, nil
}

func (s *GormReadingStore) InsertBatch(ctx context.Context, batch []ReadingRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&batch, 200).Error; err != nil {
		return fmt.Errorf("failed to insert readings: %w", err)
	}
	return nil
}

// BatchOptions tune the batched postgres sink.
type BatchOptions struct {
	QueueSize     int           // buffered readings before Record writes directly
	BatchSize     int           // flush when this many readings are queued
	FlushInterval time.Duration // flush at least this often
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	return o
}

// PostgresSink queues readings and writes them in batches so a slow database
// never stalls a connection handler.
type PostgresSink struct {
	store     ReadingStore
	opts      BatchOptions
	writeChan chan ReadingRecord
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

// constructor for PostgresSink, call StartBatchWriter to begin flushing
func NewPostgresSink(store ReadingStore, opts BatchOptions, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &PostgresSink{
		store:     store,
		opts:      opts,
		writeChan: make(chan ReadingRecord, opts.QueueSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Record queues the reading. When the queue is full it is written directly
// within ctx instead.
func (s *PostgresSink) Record(ctx context.Context, reading relay.Reading) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	rec, err := newReadingRecord(reading)
	if err != nil {
		return err
	}

	select {
	case s.writeChan <- rec:
		return nil
	default:
	}

	s.logger.Warn("reading_queue_full",
		"queue_size", s.opts.QueueSize,
	)
	return s.store.InsertBatch(ctx, []ReadingRecord{rec})
}

// StartBatchWriter flushes queued readings until ctx is cancelled or Close is
// called, then flushes whatever is left. Run it in its own goroutine.
func (s *PostgresSink) StartBatchWriter(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]ReadingRecord, 0, s.opts.BatchSize)
	s.logger.Info("batch_writer_started",
		"interval", s.opts.FlushInterval.String(),
		"batch_size", s.opts.BatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			s.drain(&batch)
			return
		case <-s.done:
			s.drain(&batch)
			return
		case rec := <-s.writeChan:
			batch = append(batch, rec)
			if len(batch) >= s.opts.BatchSize {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// drain empties the queue into batch and flushes it.
func (s *PostgresSink) drain(batch *[]ReadingRecord) {
	for {
		select {
		case rec := <-s.writeChan:
			*batch = append(*batch, rec)
		default:
			s.logger.Info("batch_writer_shutting_down", "remaining", len(*batch))
			if len(*batch) > 0 {
				s.flushBatch(*batch)
				*batch = (*batch)[:0]
			}
			return
		}
	}
}

func (s *PostgresSink) flushBatch(batch []ReadingRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.store.InsertBatch(ctx, batch); err != nil {
		s.logger.Error("batch_insert_failed",
			"count", len(batch),
			"error", err.Error(),
		)
		return
	}
	s.logger.Debug("batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Close stops accepting readings and signals the batch writer to flush.
func (s *PostgresSink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}
