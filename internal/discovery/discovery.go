package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
)

// Announcement is one device's presence broadcast: identity plus current
// network endpoint. It never carries credentials.
type Announcement struct {
	ID              string
	Address         string
	ProtocolVersion string
}

// Source produces announcements until ctx ends. The returned channel is
// closed when the source stops.
type Source interface {
	Announcements(ctx context.Context) (<-chan Announcement, error)
}

// Summary reports what one discovery run found.
type Summary struct {
	// Seen counts announcements received, repeats included.
	Seen int `json:"seen"`
	// New counts devices inserted pending configuration.
	New int `json:"new"`
	// Updated counts known devices whose endpoint actually changed.
	Updated int `json:"updated"`
}

// Merger runs discovery passes, reconciling announcements into the device
// registry. Announcements for known devices refresh address, protocol
// version and reachability only; unknown devices are inserted awaiting
// configuration. Credentials, kind and display name are never touched, so
// a forged broadcast can at worst point a record at a wrong address.
type Merger struct {
	registry *device.Registry
	source   Source
	logger   *logging.Logger
}

// NewMerger wires a merger over a registry and an announcement source.
func NewMerger(registry *device.Registry, source Source, logger *logging.Logger) *Merger {
	return &Merger{
		registry: registry,
		source:   source,
		logger:   logger.With("component", "discovery"),
	}
}

// Run listens for announcements for the given budget and merges each one
// as it arrives. Devices re-announce every few seconds, so the budget
// bounds the pass; repeats are harmless because merging is idempotent.
//
// Malformed or incomplete announcements are logged and skipped; they never
// abort the run.
func (m *Merger) Run(ctx context.Context, budget time.Duration) (Summary, error) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	announcements, err := m.source.Announcements(runCtx)
	if err != nil {
		return Summary{}, fmt.Errorf("starting discovery source: %w", err)
	}

	var summary Summary
	for ann := range announcements {
		summary.Seen++
		created, updated, err := m.Merge(ctx, ann)
		if err != nil {
			m.logger.Warn("announcement rejected",
				"device_id", ann.ID, "address", ann.Address, "error", err)
			continue
		}
		if created {
			summary.New++
			m.logger.Info("unconfigured device discovered",
				"device_id", ann.ID, "address", ann.Address, "version", ann.ProtocolVersion)
		} else if updated {
			summary.Updated++
			m.logger.Info("device endpoint refreshed",
				"device_id", ann.ID, "address", ann.Address, "version", ann.ProtocolVersion)
		}
	}

	m.logger.Info("discovery pass complete",
		"seen", summary.Seen, "new", summary.New, "updated", summary.Updated)
	return summary, nil
}

// Merge reconciles a single announcement into the registry.
func (m *Merger) Merge(ctx context.Context, ann Announcement) (created, updated bool, err error) {
	return m.registry.MergeDiscovered(ctx, ann.ID, ann.Address, ann.ProtocolVersion)
}
