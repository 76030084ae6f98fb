package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/config"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
)

// memRepository is an in-memory device.Repository for discovery tests.
type memRepository struct {
	mu      sync.Mutex
	records map[string]*device.Record
}

func newMemRepository() *memRepository {
	return &memRepository{records: make(map[string]*device.Record)}
}

func (m *memRepository) GetByID(_ context.Context, id string) (*device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return rec.Clone(), nil
	}
	return nil, device.ErrNotFound
}

func (m *memRepository) List(_ context.Context) ([]device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]device.Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, *rec.Clone())
	}
	return records, nil
}

func (m *memRepository) Upsert(_ context.Context, rec *device.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *memRepository) UpdateStatus(_ context.Context, id string, status device.Status, statusAt time.Time, reach device.Reachability, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return device.ErrNotFound
	}
	rec.LastStatus = status
	rec.StatusAt = &statusAt
	rec.Reachability = reach
	rec.LastError = lastErr
	return nil
}

func (m *memRepository) UpdateEndpoint(_ context.Context, id, address, protocolVersion string, reach device.Reachability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return device.ErrNotFound
	}
	rec.Address = address
	rec.ProtocolVersion = protocolVersion
	rec.Reachability = reach
	return nil
}

// fakeSource replays a scripted list of announcements and closes.
type fakeSource struct {
	announcements []Announcement
}

func (f *fakeSource) Announcements(ctx context.Context) (<-chan Announcement, error) {
	out := make(chan Announcement)
	go func() {
		defer close(out)
		for _, ann := range f.announcements {
			select {
			case out <- ann:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func seededRegistry(t *testing.T, records ...device.Record) *device.Registry {
	t.Helper()
	reg := device.NewRegistry(newMemRepository())
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := reg.Seed(context.Background(), records); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return reg
}

func TestMergerRunCounts(t *testing.T) {
	reg := seededRegistry(t, device.Record{
		ID:              "bulb-1",
		DisplayName:     "Hall",
		Address:         "192.168.1.40",
		CredentialKey:   "0123456789abcdef",
		ProtocolVersion: "3.3",
		Kind:            device.KindBulb,
	})

	source := &fakeSource{announcements: []Announcement{
		{ID: "bulb-1", Address: "192.168.1.41", ProtocolVersion: "3.3"}, // moved
		{ID: "bulb-1", Address: "192.168.1.41", ProtocolVersion: "3.3"}, // repeat, no-op
		{ID: "stranger", Address: "192.168.1.90", ProtocolVersion: "3.4"},
		{ID: "", Address: "192.168.1.99", ProtocolVersion: "3.3"}, // malformed
	}}

	summary, err := NewMerger(reg, source, testLogger()).Run(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Seen != 4 {
		t.Errorf("seen = %d, want 4", summary.Seen)
	}
	if summary.New != 1 {
		t.Errorf("new = %d, want 1", summary.New)
	}
	if summary.Updated != 1 {
		t.Errorf("updated = %d, want 1 (repeat must not count)", summary.Updated)
	}
}

func TestMergerKnownDeviceKeepsCredentials(t *testing.T) {
	reg := seededRegistry(t, device.Record{
		ID:              "bulb-1",
		DisplayName:     "Hall",
		Address:         "192.168.1.40",
		CredentialKey:   "0123456789abcdef",
		ProtocolVersion: "3.3",
		Kind:            device.KindBulb,
	})

	source := &fakeSource{announcements: []Announcement{
		{ID: "bulb-1", Address: "10.0.0.66", ProtocolVersion: "3.4"},
	}}
	if _, err := NewMerger(reg, source, testLogger()).Run(context.Background(), time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, err := reg.Get(context.Background(), "bulb-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Address != "10.0.0.66" || rec.ProtocolVersion != "3.4" {
		t.Errorf("endpoint not refreshed: %s %s", rec.Address, rec.ProtocolVersion)
	}
	if rec.CredentialKey != "0123456789abcdef" {
		t.Error("discovery touched the credential key")
	}
	if rec.DisplayName != "Hall" || rec.Kind != device.KindBulb {
		t.Error("discovery touched name or kind")
	}
	if rec.Reachability != device.ReachabilityOnline {
		t.Errorf("reachability = %s, want online", rec.Reachability)
	}
}

func TestMergerUnknownDevicePendingConfig(t *testing.T) {
	reg := seededRegistry(t)

	source := &fakeSource{announcements: []Announcement{
		{ID: "stranger", Address: "192.168.1.90", ProtocolVersion: "3.4"},
	}}
	if _, err := NewMerger(reg, source, testLogger()).Run(context.Background(), time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec, err := reg.Get(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("discovered device not in registry: %v", err)
	}
	if !rec.PendingConfig {
		t.Error("discovered device not marked pending configuration")
	}
	if rec.CredentialKey != "" {
		t.Error("credentials fabricated for discovered device")
	}
	if rec.Commandable() {
		t.Error("unconfigured device reported commandable")
	}
}

func TestMergerSourceFailure(t *testing.T) {
	reg := seededRegistry(t)
	m := NewMerger(reg, failingSource{}, testLogger())
	if _, err := m.Run(context.Background(), time.Second); err == nil {
		t.Fatal("source failure not surfaced")
	}
}

type failingSource struct{}

func (failingSource) Announcements(context.Context) (<-chan Announcement, error) {
	return nil, errors.New("address already in use")
}

func TestUDPParse(t *testing.T) {
	src := NewUDPSource(6667, nil, testLogger())

	tests := []struct {
		name    string
		payload string
		want    Announcement
		wantErr bool
	}{
		{
			name:    "gwId field",
			payload: `{"ip":"192.168.1.40","gwId":"bf1234","version":"3.3"}`,
			want:    Announcement{ID: "bf1234", Address: "192.168.1.40", ProtocolVersion: "3.3"},
		},
		{
			name:    "id field fallback",
			payload: `{"ip":"192.168.1.41","id":"bf5678","version":"3.4"}`,
			want:    Announcement{ID: "bf5678", Address: "192.168.1.41", ProtocolVersion: "3.4"},
		},
		{
			name:    "not json",
			payload: "hello",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.parse([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStripFrame(t *testing.T) {
	json := `{"ip":"192.168.1.40","gwId":"bf1234","version":"3.3"}`

	framed := make([]byte, 0, len(json)+28)
	framed = append(framed, 0x00, 0x00, 0x55, 0xaa) // prefix
	framed = append(framed, make([]byte, 16)...)    // rest of header
	framed = append(framed, []byte(json)...)        // payload
	framed = append(framed, make([]byte, 8)...)     // crc + suffix

	got, err := StripFrame(framed)
	if err != nil {
		t.Fatalf("StripFrame: %v", err)
	}
	if string(got) != json {
		t.Errorf("StripFrame = %q, want %q", got, json)
	}

	plain, err := StripFrame([]byte(json))
	if err != nil {
		t.Fatalf("StripFrame plain: %v", err)
	}
	if string(plain) != json {
		t.Error("unframed payload modified")
	}

	if _, err := StripFrame([]byte{0x00, 0x00, 0x55, 0xaa, 0x01}); err == nil {
		t.Error("truncated frame accepted")
	}
}
