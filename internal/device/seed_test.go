package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}
	return path
}

func TestLoadSeed_WizardFormat(t *testing.T) {
	path := writeSeedFile(t, `[
		{"id": "bf1234", "name": "Lounge Bulb", "ip": "192.168.1.40", "key": "abcd1234efgh5678", "version": "3.3", "device_type": "bulb"},
		{"id": "bf5678", "ip": "192.168.1.41", "key": "ffff0000ffff0000", "version": 3.3}
	]`)

	records, seedErrs, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed() error: %v", err)
	}
	if len(seedErrs) != 0 {
		t.Fatalf("expected no seed errors, got %v", seedErrs)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if records[0].Kind != KindBulb {
		t.Errorf("expected kind bulb, got %q", records[0].Kind)
	}
	if records[0].DisplayName != "Lounge Bulb" {
		t.Errorf("expected name from file, got %q", records[0].DisplayName)
	}

	// Defaults: name falls back to id, numeric version normalised,
	// missing device_type becomes generic
	if records[1].DisplayName != "bf5678" {
		t.Errorf("expected name to default to id, got %q", records[1].DisplayName)
	}
	if records[1].ProtocolVersion != "3.3" {
		t.Errorf("expected numeric version normalised to 3.3, got %q", records[1].ProtocolVersion)
	}
	if records[1].Kind != KindGeneric {
		t.Errorf("expected default kind generic, got %q", records[1].Kind)
	}
}

func TestLoadSeed_PerRecordFailure(t *testing.T) {
	// Second record lacks a key; the other two must still load.
	path := writeSeedFile(t, `[
		{"id": "ok1", "ip": "192.168.1.40", "key": "aaaa"},
		{"id": "broken", "ip": "192.168.1.41"},
		{"id": "ok2", "ip": "192.168.1.42", "key": "bbbb"}
	]`)

	records, seedErrs, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 good records, got %d", len(records))
	}
	if len(seedErrs) != 1 {
		t.Fatalf("expected 1 seed error, got %d", len(seedErrs))
	}
	if seedErrs[0].Index != 1 || seedErrs[0].ID != "broken" {
		t.Errorf("seed error should identify the record, got %+v", seedErrs[0])
	}
	if !errors.Is(seedErrs[0], ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", seedErrs[0].Err)
	}
}

func TestLoadSeed_UnknownFieldsTolerated(t *testing.T) {
	path := writeSeedFile(t, `[
		{"id": "d1", "ip": "192.168.1.40", "key": "aaaa",
		 "product_name": "Smart Bulb RGBCW", "mac": "aa:bb:cc:dd:ee:ff", "uuid": "xyz", "category": "dj"}
	]`)

	records, seedErrs, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed() error: %v", err)
	}
	if len(seedErrs) != 0 || len(records) != 1 {
		t.Fatalf("unknown fields must not fail a record: records=%d errs=%v", len(records), seedErrs)
	}
}

func TestLoadSeed_UnrecognisedDeviceType(t *testing.T) {
	path := writeSeedFile(t, `[
		{"id": "d1", "ip": "192.168.1.40", "key": "aaaa", "device_type": "thermostat"}
	]`)

	records, seedErrs, err := LoadSeed(path)
	if err != nil || len(seedErrs) != 0 {
		t.Fatalf("LoadSeed() error: %v, seedErrs: %v", err, seedErrs)
	}
	if records[0].Kind != KindGeneric {
		t.Errorf("unrecognised device_type should fall back to generic, got %q", records[0].Kind)
	}
}

func TestLoadSeed_FileErrors(t *testing.T) {
	if _, _, err := LoadSeed(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeSeedFile(t, `{"not": "an array"`)
	if _, _, err := LoadSeed(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestSeedEntryToRecord_Validation(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		entry   seedEntry
		wantErr error
	}{
		{
			name:    "missing id",
			entry:   seedEntry{IP: "192.168.1.1", Key: "k"},
			wantErr: ErrMissingField,
		},
		{
			name:    "missing ip",
			entry:   seedEntry{ID: "d1", Key: "k"},
			wantErr: ErrMissingField,
		},
		{
			name:    "missing key",
			entry:   seedEntry{ID: "d1", IP: "192.168.1.1"},
			wantErr: ErrMissingField,
		},
		{
			name:    "unsupported version",
			entry:   seedEntry{ID: "d1", IP: "192.168.1.1", Key: "k", Version: "9.9"},
			wantErr: ErrInvalidRecord,
		},
		{
			name:  "valid minimal",
			entry: seedEntry{ID: "d1", IP: "192.168.1.1", Key: "k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.entry.toRecord(now)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
