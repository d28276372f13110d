package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatilecz/evac/internal/models"
)

func sampleData() *models.Data {
	data := models.NewData()
	loc := models.Location{UUID: uuid.New(), Name: "Hall"}
	data.Locations[loc.UUID] = loc
	room := models.Room{UUID: uuid.New(), Name: "Kitchen", Location: loc.UUID}
	data.Rooms[room.UUID] = room
	dev := models.Device{UUID: uuid.New(), Mac: models.MAC{1, 2, 3, 4, 5, 6}, Name: "Button", Enabled: true}
	data.Devices[dev.UUID] = dev
	return data
}

func TestJSONFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	store := NewJSONFileStore(path)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty.Devices, "missing file loads as an empty snapshot")

	data := sampleData()
	require.NoError(t, store.Save(ctx, data))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, data.Locations, loaded.Locations)
	assert.Equal(t, data.Rooms, loaded.Rooms)
	assert.Equal(t, data.Devices, loaded.Devices)
	assert.NotNil(t, loaded.Tokens)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestJSONFileStoreHistoricalFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	id := uuid.New()
	doc := fmt.Sprintf(`{"devices": {"%s": {"uuid": "%s", "mac": [170, 187, 204, 0, 1, 2], "enable": true}}}`, id, id)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	data, err := NewJSONFileStore(path).Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, data.Devices, id)
	assert.Equal(t, models.MAC{0xaa, 0xbb, 0xcc, 0, 1, 2}, data.Devices[id].Mac)
	assert.True(t, data.Devices[id].Enabled)
	assert.NotNil(t, data.Scanners)
}

func TestJSONFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := NewJSONFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

// fakePocketBase keeps records in memory and speaks the records API
type fakePocketBase struct {
	mu      sync.Mutex
	next    int
	records map[string]map[string]pbRecord
	auth    []string
}

func newFakePocketBase() *fakePocketBase {
	return &fakePocketBase{records: make(map[string]map[string]pbRecord)}
}

func (f *fakePocketBase) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[collection])
}

func (f *fakePocketBase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	// /api/collections/<name>/records[/<id>]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "collections" || parts[3] != "records" {
		http.NotFound(w, r)
		return
	}
	collection := parts[2]
	if f.records[collection] == nil {
		f.records[collection] = make(map[string]pbRecord)
	}
	records := f.records[collection]

	switch {
	case r.Method == http.MethodGet && len(parts) == 4:
		items := make([]pbRecord, 0, len(records))
		for _, rec := range records {
			items = append(items, rec)
		}
		json.NewEncoder(w).Encode(pbList{Page: 1, TotalPages: 1, Items: items})
	case r.Method == http.MethodPost && len(parts) == 4:
		var rec pbRecord
		json.NewDecoder(r.Body).Decode(&rec)
		f.next++
		rec.ID = fmt.Sprintf("rec%d", f.next)
		records[rec.ID] = rec
		json.NewEncoder(w).Encode(rec)
	case r.Method == http.MethodPatch && len(parts) == 5:
		var rec pbRecord
		json.NewDecoder(r.Body).Decode(&rec)
		rec.ID = parts[4]
		records[rec.ID] = rec
		json.NewEncoder(w).Encode(rec)
	case r.Method == http.MethodDelete && len(parts) == 5:
		delete(records, parts[4])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusBadRequest)
	}
}

func TestPocketBaseStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakePocketBase()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store := NewPocketBaseStore(srv.URL+"/", "secret")

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Devices)

	data := sampleData()
	require.NoError(t, store.Save(ctx, data))
	assert.Equal(t, 1, fake.count(CollectionDevices))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, data.Devices, loaded.Devices)
	assert.Equal(t, data.Rooms, loaded.Rooms)

	// rename one location, drop the room
	for id, loc := range data.Locations {
		loc.Name = "Lobby"
		data.Locations[id] = loc
	}
	data.Rooms = map[uuid.UUID]models.Room{}
	require.NoError(t, store.Save(ctx, data))

	assert.Equal(t, 1, fake.count(CollectionLocations), "existing records are updated in place")
	assert.Equal(t, 0, fake.count(CollectionRooms))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	for _, loc := range loaded.Locations {
		assert.Equal(t, "Lobby", loc.Name)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, a := range fake.auth {
		assert.Equal(t, "secret", a)
	}
}

func TestPocketBaseStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewPocketBaseStore(srv.URL, "").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestBackupKey(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "backups/2026-03-04T04:06:07Z.json", BackupKey(ts))
}

func TestNoBackups(t *testing.T) {
	_, err := NoBackups{}.Backup(context.Background(), models.NewData())
	assert.ErrorIs(t, err, ErrBackupDisabled)
	list, err := NoBackups{}.List(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore("json", "data.json", "", "")
	require.NoError(t, err)
	assert.IsType(t, &JSONFileStore{}, s)

	s, err = NewStore("pocketbase", "", "http://127.0.0.1:8090", "")
	require.NoError(t, err)
	assert.IsType(t, &PocketBaseStore{}, s)

	_, err = NewStore("pocketbase", "", "", "")
	assert.Error(t, err)
	_, err = NewStore("bolt", "", "", "")
	assert.Error(t, err)
}
