package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/models"
)

// PocketBase collections, one per entity. Every record holds the entity
// identity in `uuid` and the entity itself in the `data` JSON field.
const (
	CollectionScanners      = "evac_scanners"
	CollectionDevices       = "evac_devices"
	CollectionLocations     = "evac_locations"
	CollectionRooms         = "evac_rooms"
	CollectionAlarms        = "evac_alarms"
	CollectionNotifications = "evac_notifications"
	CollectionContacts      = "evac_contacts"
	CollectionContactGroups = "evac_contact_groups"
	CollectionUsers         = "evac_users"
	CollectionTokens        = "evac_tokens"
)

// Collections lists every collection the store uses
var Collections = []string{
	CollectionScanners,
	CollectionDevices,
	CollectionLocations,
	CollectionRooms,
	CollectionAlarms,
	CollectionNotifications,
	CollectionContacts,
	CollectionContactGroups,
	CollectionUsers,
	CollectionTokens,
}

const pageSize = 200

// PocketBaseStore implements Store over the PocketBase REST API
type PocketBaseStore struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewPocketBaseStore creates a store talking to the PocketBase server at baseURL
func NewPocketBaseStore(baseURL, authToken string) *PocketBaseStore {
	return &PocketBaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ Store = (*PocketBaseStore)(nil)

type pbRecord struct {
	ID   string          `json:"id,omitempty"`
	UUID string          `json:"uuid"`
	Data json.RawMessage `json:"data"`
}

type pbList struct {
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
	Items      []pbRecord `json:"items"`
}

func (s *PocketBaseStore) addAuthHeader(req *http.Request) {
	if s.authToken != "" {
		req.Header.Set("Authorization", s.authToken)
	}
}

func (s *PocketBaseStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.addAuthHeader(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *PocketBaseStore) list(ctx context.Context, collection string) ([]pbRecord, error) {
	var records []pbRecord
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", fmt.Sprint(page))
		query.Set("perPage", fmt.Sprint(pageSize))
		query.Set("fields", "id,uuid,data")

		var result pbList
		path := fmt.Sprintf("/api/collections/%s/records?%s", collection, query.Encode())
		if err := s.do(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, err
		}
		records = append(records, result.Items...)
		if page >= result.TotalPages {
			return records, nil
		}
	}
}

func loadCollection[T any](ctx context.Context, s *PocketBaseStore, collection string) (map[uuid.UUID]T, error) {
	records, err := s.list(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", collection, err)
	}

	out := make(map[uuid.UUID]T, len(records))
	for _, r := range records {
		id, err := uuid.Parse(r.UUID)
		if err != nil {
			logging.Log.WithField("collection", collection).WithField("record", r.ID).Warn("Skipping record with invalid uuid")
			continue
		}
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s record %s: %w", collection, r.ID, err)
		}
		out[id] = v
	}
	return out, nil
}

func saveCollection[T any](ctx context.Context, s *PocketBaseStore, collection string, items map[uuid.UUID]T) error {
	existing, err := s.list(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", collection, err)
	}
	ids := make(map[string]string, len(existing))
	for _, r := range existing {
		ids[r.UUID] = r.ID
	}

	base := fmt.Sprintf("/api/collections/%s/records", collection)
	var errs error
	for id, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		record := pbRecord{UUID: id.String(), Data: raw}
		if recordID, ok := ids[record.UUID]; ok {
			errs = multierr.Append(errs, s.do(ctx, http.MethodPatch, base+"/"+recordID, record, nil))
			delete(ids, record.UUID)
		} else {
			errs = multierr.Append(errs, s.do(ctx, http.MethodPost, base, record, nil))
		}
	}
	for _, recordID := range ids {
		errs = multierr.Append(errs, s.do(ctx, http.MethodDelete, base+"/"+recordID, nil, nil))
	}
	return errs
}

// Load reads every collection into a snapshot
func (s *PocketBaseStore) Load(ctx context.Context) (*models.Data, error) {
	data := models.NewData()
	steps := []func() error{
		func() (err error) { data.Scanners, err = loadCollection[models.Scanner](ctx, s, CollectionScanners); return },
		func() (err error) { data.Devices, err = loadCollection[models.Device](ctx, s, CollectionDevices); return },
		func() (err error) { data.Locations, err = loadCollection[models.Location](ctx, s, CollectionLocations); return },
		func() (err error) { data.Rooms, err = loadCollection[models.Room](ctx, s, CollectionRooms); return },
		func() (err error) { data.Alarms, err = loadCollection[models.Alarm](ctx, s, CollectionAlarms); return },
		func() (err error) {
			data.Notifications, err = loadCollection[models.Notification](ctx, s, CollectionNotifications)
			return
		},
		func() (err error) { data.Contacts, err = loadCollection[models.Contact](ctx, s, CollectionContacts); return },
		func() (err error) {
			data.ContactGroups, err = loadCollection[models.ContactGroup](ctx, s, CollectionContactGroups)
			return
		},
		func() (err error) { data.Users, err = loadCollection[models.User](ctx, s, CollectionUsers); return },
		func() (err error) { data.Tokens, err = loadCollection[models.Token](ctx, s, CollectionTokens); return },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Save upserts every entity and deletes records that are no longer present
func (s *PocketBaseStore) Save(ctx context.Context, data *models.Data) error {
	return multierr.Combine(
		saveCollection(ctx, s, CollectionScanners, data.Scanners),
		saveCollection(ctx, s, CollectionDevices, data.Devices),
		saveCollection(ctx, s, CollectionLocations, data.Locations),
		saveCollection(ctx, s, CollectionRooms, data.Rooms),
		saveCollection(ctx, s, CollectionAlarms, data.Alarms),
		saveCollection(ctx, s, CollectionNotifications, data.Notifications),
		saveCollection(ctx, s, CollectionContacts, data.Contacts),
		saveCollection(ctx, s, CollectionContactGroups, data.ContactGroups),
		saveCollection(ctx, s, CollectionUsers, data.Users),
		saveCollection(ctx, s, CollectionTokens, data.Tokens),
	)
}
