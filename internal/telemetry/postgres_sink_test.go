package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayalert/internal/microservices/relay"
)

// fakeStore keeps a copy of every batch; the sink reuses its batch slice.
type fakeStore struct {
	mu      sync.Mutex
	batches [][]ReadingRecord
	err     error
}

func (f *fakeStore) InsertBatch(_ context.Context, batch []ReadingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, append([]ReadingRecord(nil), batch...))
	return nil
}

func (f *fakeStore) rows() []ReadingRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []ReadingRecord
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func sensorReading(distance float64) relay.Reading {
	return relay.Reading{
		ConnectionID: "conn-1",
		Role:         "SENSOR",
		Distance:     distance,
		Data:         json.RawMessage(`{"distance":` + jsonFloat(distance) + `}`),
		Leds:         relay.MapDistance(distance),
		Forwarded:    true,
		ReceivedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestNewReadingRecord(t *testing.T) {
	rec, err := newReadingRecord(sensorReading(55))
	require.NoError(t, err)

	assert.Equal(t, "conn-1", rec.ConnectionID)
	assert.Equal(t, "SENSOR", rec.Role)
	assert.Equal(t, 55.0, rec.Distance)
	assert.JSONEq(t, `{"distance":55}`, rec.Data)
	assert.JSONEq(t, `[{"led":"red","action":"on"}]`, rec.Leds)
	assert.True(t, rec.Forwarded)
	assert.Equal(t, "readings", rec.TableName())
}

func TestNewReadingRecord_NoData(t *testing.T) {
	rec, err := newReadingRecord(relay.Reading{Role: "SENSOR", Distance: 1})
	require.NoError(t, err)
	assert.Equal(t, "null", rec.Data)
	assert.Equal(t, "null", rec.Leds)
}

func TestPostgresSink_FlushesOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	sink := NewPostgresSink(store, BatchOptions{BatchSize: 3, FlushInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.StartBatchWriter(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Record(ctx, sensorReading(float64(i*10))))
	}

	require.Eventually(t, func() bool { return store.batchCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	rows := store.rows()
	require.Len(t, rows, 3)
	assert.Equal(t, 0.0, rows[0].Distance)
	assert.Equal(t, 20.0, rows[2].Distance)
}

func TestPostgresSink_FlushesOnInterval(t *testing.T) {
	store := &fakeStore{}
	sink := NewPostgresSink(store, BatchOptions{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.StartBatchWriter(ctx)

	require.NoError(t, sink.Record(ctx, sensorReading(75)))

	require.Eventually(t, func() bool { return len(store.rows()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPostgresSink_CloseDrainsQueue(t *testing.T) {
	store := &fakeStore{}
	sink := NewPostgresSink(store, BatchOptions{BatchSize: 100, FlushInterval: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Record(context.Background(), sensorReading(float64(i))))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.StartBatchWriter(context.Background())
	}()
	require.NoError(t, sink.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch writer did not stop after Close")
	}
	assert.Len(t, store.rows(), 5)

	err := sink.Record(context.Background(), sensorReading(1))
	assert.ErrorIs(t, err, ErrSinkClosed)
	assert.NoError(t, sink.Close())
}

func TestPostgresSink_FullQueueWritesDirectly(t *testing.T) {
	store := &fakeStore{}
	sink := NewPostgresSink(store, BatchOptions{QueueSize: 1, BatchSize: 10}, nil)

	// no writer running, so the second reading overflows the queue
	require.NoError(t, sink.Record(context.Background(), sensorReading(1)))
	require.NoError(t, sink.Record(context.Background(), sensorReading(2)))

	rows := store.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].Distance)
}

func TestPostgresSink_DirectWriteErrorIsReturned(t *testing.T) {
	store := &fakeStore{err: errors.New("database unavailable")}
	sink := NewPostgresSink(store, BatchOptions{QueueSize: 1}, nil)

	require.NoError(t, sink.Record(context.Background(), sensorReading(1)))
	assert.Error(t, sink.Record(context.Background(), sensorReading(2)))
}

func TestBatchOptions_Defaults(t *testing.T) {
	opts := BatchOptions{}.withDefaults()
	assert.Equal(t, 10000, opts.QueueSize)
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, 5*time.Second, opts.FlushInterval)

	custom := BatchOptions{QueueSize: 5, BatchSize: 2, FlushInterval: time.Second}.withDefaults()
	assert.Equal(t, BatchOptions{QueueSize: 5, BatchSize: 2, FlushInterval: time.Second}, custom)
}
