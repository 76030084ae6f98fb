package device

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// seedEntry is one record of the devices.json seed file in TinyTuya wizard
// format. Unknown fields are tolerated and ignored.
type seedEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Key     string `json:"key"`
	Version any    `json:"version"` // wizard emits both "3.3" and 3.3
	Type    string `json:"device_type"`
}

// SeedError reports one malformed seed record. The load continues past it.
type SeedError struct {
	// Index is the zero-based position of the record in the seed file.
	Index int

	// ID is the record's device id, if it had one.
	ID string

	// Err is the underlying validation failure.
	Err error
}

func (e SeedError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("seed record %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("seed record %d: %v", e.Index, e.Err)
}

func (e SeedError) Unwrap() error { return e.Err }

// LoadSeed reads the devices.json seed file and converts it to Records.
//
// Malformed records are reported individually in the returned SeedError
// slice and skipped; a non-nil error is returned only if the file itself
// cannot be read or parsed. This is the single path by which credential
// material enters the system.
func LoadSeed(path string) ([]Record, []SeedError, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, nil, fmt.Errorf("reading seed file: %w", err)
	}

	var entries []seedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("parsing seed file: %w", err)
	}

	now := time.Now().UTC()
	records := make([]Record, 0, len(entries))
	var seedErrs []SeedError

	for i, entry := range entries {
		rec, err := entry.toRecord(now)
		if err != nil {
			seedErrs = append(seedErrs, SeedError{Index: i, ID: entry.ID, Err: err})
			continue
		}
		records = append(records, *rec)
	}

	return records, seedErrs, nil
}

// toRecord converts a seed entry to a validated Record, applying the
// defaults the TinyTuya wizard relies on.
func (e seedEntry) toRecord(now time.Time) (*Record, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	if e.IP == "" {
		return nil, fmt.Errorf("%w: ip", ErrMissingField)
	}
	if e.Key == "" {
		return nil, fmt.Errorf("%w: key", ErrMissingField)
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}

	version := normaliseVersion(e.Version)
	if version == "" {
		version = "3.3"
	}

	rec := &Record{
		ID:              e.ID,
		DisplayName:     name,
		Address:         e.IP,
		CredentialKey:   e.Key,
		ProtocolVersion: version,
		Kind:            ParseKind(e.Type),
		Reachability:    ReachabilityUnknown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := Validate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// normaliseVersion renders the wizard's version field, which may be a JSON
// string or number, as a canonical string.
func normaliseVersion(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.1f", val)
	default:
		return ""
	}
}
