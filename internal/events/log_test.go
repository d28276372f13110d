package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatilecz/evac/internal/models"
)

func TestRecordDeduplicates(t *testing.T) {
	log := NewLog()
	scanner, device := uuid.New(), uuid.New()
	start := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	first, inserted := log.Record(models.Event{
		Device: &device, Scanner: scanner, Kind: models.EventButtonPressed, Timestamp: start,
	})
	require.True(t, inserted)
	require.NotEqual(t, uuid.Nil, first.UUID)

	again, inserted := log.Record(models.Event{
		Device: &device, Scanner: scanner, Kind: models.EventButtonPressed, Timestamp: start.Add(time.Minute),
	})
	assert.False(t, inserted)
	assert.Equal(t, first.UUID, again.UUID)
	assert.Equal(t, start.Add(time.Minute), again.Timestamp)
	assert.Equal(t, 1, log.Len())

	stored, ok := log.Get(first.UUID)
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), stored.Timestamp)
}

func TestRecordDistinctKeys(t *testing.T) {
	log := NewLog()
	scannerA, scannerB, device := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	tests := []models.Event{
		{Device: &device, Scanner: scannerA, Kind: models.EventButtonPressed, Timestamp: now},
		{Device: &device, Scanner: scannerA, Kind: models.EventButtonHold, Timestamp: now},
		{Device: &device, Scanner: scannerB, Kind: models.EventButtonPressed, Timestamp: now},
		{Device: nil, Scanner: scannerA, Kind: models.EventOperator, Timestamp: now},
	}
	for _, e := range tests {
		_, inserted := log.Record(e)
		assert.True(t, inserted)
	}
	assert.Equal(t, len(tests), log.Len())

	_, inserted := log.Record(models.Event{Scanner: scannerA, Kind: models.EventOperator, Timestamp: now})
	assert.False(t, inserted, "operator events without device deduplicate too")
}

func TestRemove(t *testing.T) {
	log := NewLog()
	scanner, device := uuid.New(), uuid.New()
	e, _ := log.Record(models.Event{Device: &device, Scanner: scanner, Kind: models.EventButtonLong})

	assert.True(t, log.Remove(e.UUID))
	assert.False(t, log.Remove(e.UUID))

	_, inserted := log.Record(models.Event{Device: &device, Scanner: scanner, Kind: models.EventButtonLong})
	assert.True(t, inserted, "key is released on removal")
}

func TestRemoveDeviceAndList(t *testing.T) {
	log := NewLog()
	scanner, deviceA, deviceB := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	log.Record(models.Event{Device: &deviceA, Scanner: scanner, Kind: models.EventButtonPressed, Timestamp: now})
	log.Record(models.Event{Device: &deviceA, Scanner: scanner, Kind: models.EventButtonHold, Timestamp: now.Add(time.Second)})
	kept, _ := log.Record(models.Event{Device: &deviceB, Scanner: scanner, Kind: models.EventButtonPressed, Timestamp: now.Add(2 * time.Second)})

	assert.Len(t, log.RemoveDevice(deviceA), 2)

	list := log.List()
	require.Len(t, list, 1)
	assert.Equal(t, kept.UUID, list[0].UUID)
}

func TestRemoveScanner(t *testing.T) {
	log := NewLog()
	gone, other, device := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	log.Record(models.Event{Device: &device, Scanner: gone, Kind: models.EventButtonPressed, Timestamp: now})
	log.Record(models.Event{Device: &device, Scanner: gone, Kind: models.EventButtonHold, Timestamp: now})
	kept, _ := log.Record(models.Event{Device: &device, Scanner: other, Kind: models.EventButtonPressed, Timestamp: now})

	assert.Len(t, log.RemoveScanner(gone), 2)
	assert.Empty(t, log.RemoveScanner(gone))

	list := log.List()
	require.Len(t, list, 1)
	assert.Equal(t, kept.UUID, list[0].UUID)
}
