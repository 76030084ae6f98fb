package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory table of known devices backed by a Repository.
//
// All mutation goes through the narrow update methods below under a single
// writer lock; readers receive cloned snapshots and can never observe a
// half-updated record. There is exactly one Record per device ID.
type Registry struct {
	repo   Repository
	cache  map[string]*Record
	mu     sync.RWMutex
	logger Logger
}

// NewRegistry creates a device registry over the given repository.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load populates the cache from the repository. Call once on startup,
// before seeding.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i]
		r.cache[rec.ID] = rec.Clone()
	}

	r.logger.Info("device registry loaded", "count", len(records))
	return nil
}

// Seed merges configuration-sourced records into the registry.
//
// Seed records carry trust material, so unlike discovery they may set
// credentialKey, displayName, and protocolVersion. A record's kind is fixed
// at creation: a seed entry that disagrees with the stored kind is rejected
// with ErrKindImmutable rather than silently recategorising the device.
// Live status fields (lastStatus, reachability, lastError) are preserved.
func (r *Registry) Seed(ctx context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range records {
		incoming := records[i]
		if err := Validate(&incoming); err != nil {
			return err
		}

		existing, known := r.cache[incoming.ID]
		if known {
			if existing.Kind != incoming.Kind {
				return fmt.Errorf("%w: %s is %s, seed says %s",
					ErrKindImmutable, incoming.ID, existing.Kind, incoming.Kind)
			}
			merged := existing.Clone()
			merged.DisplayName = incoming.DisplayName
			merged.Address = incoming.Address
			merged.CredentialKey = incoming.CredentialKey
			merged.ProtocolVersion = incoming.ProtocolVersion
			merged.PendingConfig = false
			merged.UpdatedAt = time.Now().UTC()
			if err := r.repo.Upsert(ctx, merged); err != nil {
				return fmt.Errorf("persisting seed record %s: %w", incoming.ID, err)
			}
			r.cache[incoming.ID] = merged
			continue
		}

		fresh := incoming.Clone()
		if err := r.repo.Upsert(ctx, fresh); err != nil {
			return fmt.Errorf("persisting seed record %s: %w", incoming.ID, err)
		}
		r.cache[incoming.ID] = fresh
		r.logger.Info("device configured", "id", fresh.ID, "name", fresh.DisplayName, "kind", fresh.Kind)
	}

	return nil
}

// Get returns a snapshot of the device with the given ID.
// Returns ErrNotFound if the device does not exist.
func (r *Registry) Get(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.cache[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns a stable snapshot of all devices. The returned slice and
// records are copies; callers can iterate and mutate freely.
func (r *Registry) List(_ context.Context) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		records = append(records, *rec.Clone())
	}
	return records
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// UpdateStatus records a dispatch outcome for a device. It is the only
// path by which command results reach the registry.
//
// The status delta is merged into the existing snapshot (a command reply
// carries only the parameters it changed); lastError is set to errSummary,
// or cleared when errSummary is empty.
func (r *Registry) UpdateStatus(ctx context.Context, id string, delta Status, reach Reachability, errSummary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.cache[id]
	if !ok {
		return ErrNotFound
	}

	updated := existing.Clone()
	if updated.LastStatus == nil {
		updated.LastStatus = make(Status, len(delta))
	}
	for k, v := range delta {
		updated.LastStatus[k] = cloneValue(v)
	}
	now := time.Now().UTC()
	updated.StatusAt = &now
	updated.Reachability = reach
	updated.LastError = errSummary
	updated.UpdatedAt = now

	if err := r.repo.UpdateStatus(ctx, id, updated.LastStatus, now, reach, errSummary); err != nil {
		return fmt.Errorf("persisting status for %s: %w", id, err)
	}
	r.cache[id] = updated

	r.logger.Debug("device status updated", "id", id, "reachability", reach)
	return nil
}

// ReplaceStatus records a full status snapshot (from a status query),
// discarding the previous parameter map instead of merging into it.
func (r *Registry) ReplaceStatus(ctx context.Context, id string, status Status, reach Reachability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.cache[id]
	if !ok {
		return ErrNotFound
	}

	updated := existing.Clone()
	updated.LastStatus = cloneStatus(status)
	now := time.Now().UTC()
	updated.StatusAt = &now
	updated.Reachability = reach
	updated.LastError = ""
	updated.UpdatedAt = now

	if err := r.repo.UpdateStatus(ctx, id, updated.LastStatus, now, reach, ""); err != nil {
		return fmt.Errorf("persisting status for %s: %w", id, err)
	}
	r.cache[id] = updated
	return nil
}

// MergeDiscovered reconciles a discovery announcement into the registry.
//
// Known devices get only their address, protocol version, and reachability
// refreshed; credentialKey, kind, and displayName are never touched by this
// path. Unknown devices are inserted pending configuration: they carry no
// credentials and cannot be commanded until the seed file supplies them.
// The merge is idempotent.
//
// Returns (created, updated): created is true for a newly inserted record,
// updated is true when an existing record changed.
func (r *Registry) MergeDiscovered(ctx context.Context, id, address, protocolVersion string) (bool, bool, error) {
	if id == "" || address == "" {
		return false, false, fmt.Errorf("%w: announcement missing id or address", ErrInvalidRecord)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.cache[id]
	if known {
		version := protocolVersion
		if version == "" || !supportedVersions[version] {
			version = existing.ProtocolVersion
		}
		if existing.Address == address &&
			existing.ProtocolVersion == version &&
			existing.Reachability == ReachabilityOnline {
			return false, false, nil // idempotent: nothing to do
		}

		updated := existing.Clone()
		updated.Address = address
		updated.ProtocolVersion = version
		updated.Reachability = ReachabilityOnline
		updated.UpdatedAt = time.Now().UTC()

		if err := r.repo.UpdateEndpoint(ctx, id, address, version, ReachabilityOnline); err != nil {
			return false, false, fmt.Errorf("persisting endpoint for %s: %w", id, err)
		}
		r.cache[id] = updated
		r.logger.Debug("device endpoint refreshed", "id", id, "address", address)
		return false, true, nil
	}

	version := protocolVersion
	if version == "" || !supportedVersions[version] {
		version = "3.3"
	}
	now := time.Now().UTC()
	fresh := &Record{
		ID:              id,
		DisplayName:     id,
		Address:         address,
		ProtocolVersion: version,
		Kind:            KindGeneric,
		Reachability:    ReachabilityUnknown,
		PendingConfig:   true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.repo.Upsert(ctx, fresh); err != nil {
		return false, false, fmt.Errorf("persisting discovered device %s: %w", id, err)
	}
	r.cache[id] = fresh
	r.logger.Info("device discovered, awaiting configuration", "id", id, "address", address)
	return true, false, nil
}
