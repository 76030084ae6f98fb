package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
	"github.com/nerrad567/tuyalink-core/internal/transport"
)

// Operation is a single command request against one device.
type Operation struct {
	DeviceID string      `json:"device_id"`
	Command  CommandKind `json:"command"`

	// Value carries the command argument: brightness percent for
	// set_brightness, an RGB object for set_colour, a parameter map for
	// set_parameter. Nil for power commands.
	Value any `json:"value,omitempty"`
}

// Outcome is the terminal result of one dispatched operation. Exactly one
// of OK or ErrorKind is meaningful.
type Outcome struct {
	DeviceID  string        `json:"device_id"`
	Command   CommandKind   `json:"command"`
	OK        bool          `json:"ok"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Status    device.Status `json:"status,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Config bounds the dispatcher's patience.
type Config struct {
	// RetryCeiling is the total number of transport attempts per command,
	// first try included.
	RetryCeiling int

	// BackoffBase is the delay before the first retry; each subsequent
	// retry doubles it, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// AcquireTimeout bounds how long a command waits for the device's
	// exclusive connection slot.
	AcquireTimeout time.Duration

	// CallTimeout bounds each individual transport call.
	CallTimeout time.Duration
}

// Dispatcher executes commands against devices: command validation, gate
// acquisition, session reuse, retry with exponential backoff, fault
// classification, and the resulting registry update.
type Dispatcher struct {
	registry *device.Registry
	gate     *Gate
	adapter  transport.Adapter
	cfg      Config
	logger   *logging.Logger
}

// NewDispatcher wires a dispatcher. The gate should have been created with
// the adapter's Close as its session closer.
func NewDispatcher(registry *device.Registry, gate *Gate, adapter transport.Adapter, cfg Config, logger *logging.Logger) *Dispatcher {
	if cfg.RetryCeiling < 1 {
		cfg.RetryCeiling = 1
	}
	return &Dispatcher{
		registry: registry,
		gate:     gate,
		adapter:  adapter,
		cfg:      cfg,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch runs one operation to a terminal outcome. The registry is
// updated exactly once per dispatch: resulting device status on success,
// reachability and last error on transport failure.
//
// If ctx expires while a transport call is in flight, Dispatch returns a
// timeout outcome immediately but the device's connection slot stays held
// until the call actually returns; the worker then records the real result
// in the registry before releasing.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation) Outcome {
	start := time.Now()

	rec, err := d.registry.Get(ctx, op.DeviceID)
	if err != nil {
		return d.fail(op, start, 0, ErrKindNotFound, err)
	}
	if rec.PendingConfig {
		return d.fail(op, start, 0, ErrKindConfigInvalid, fmt.Errorf("%w: %s", ErrAwaitingConfig, op.DeviceID))
	}
	if !rec.Commandable() {
		return d.fail(op, start, 0, ErrKindConfigInvalid,
			fmt.Errorf("%w: %s has no usable credentials", ErrAwaitingConfig, op.DeviceID))
	}
	if err := validateCommand(rec.Kind, op.Command); err != nil {
		return d.fail(op, start, 0, ErrKindInvalidCommand, err)
	}
	params, err := buildParams(rec.Kind, op.Command, op.Value)
	if err != nil {
		return d.fail(op, start, 0, ErrKindInvalidCommand, err)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, d.cfg.AcquireTimeout)
	lease, err := d.gate.Acquire(acquireCtx, op.DeviceID)
	cancel()
	if err != nil {
		return d.fail(op, start, 0, ErrKindTimeout, err)
	}

	done := make(chan Outcome, 1)
	go d.run(ctx, lease, rec, op, params, start, done)

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		d.logger.Warn("command abandoned, slot held until call returns",
			"device_id", op.DeviceID, "command", string(op.Command))
		return d.fail(op, start, 0, ErrKindTimeout,
			fmt.Errorf("command abandoned: %w", ctx.Err()))
	}
}

// QueryStatus reads the device's live status over its exclusive slot and
// replaces the registry snapshot with the result.
func (d *Dispatcher) QueryStatus(ctx context.Context, deviceID string) (device.Status, error) {
	rec, err := d.registry.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !rec.Commandable() {
		return nil, fmt.Errorf("%w: %s", ErrAwaitingConfig, deviceID)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, d.cfg.AcquireTimeout)
	lease, err := d.gate.Acquire(acquireCtx, deviceID)
	cancel()
	if err != nil {
		return nil, err
	}
	var status device.Status
	invalidate := false
	for attempt := 1; attempt <= d.cfg.RetryCeiling; attempt++ {
		status, err = d.readStatus(lease, rec)
		if err == nil {
			invalidate = false
			break
		}
		d.dropSession(lease)
		invalidate = true
		if transport.IsPermanent(err) || attempt == d.cfg.RetryCeiling {
			break
		}
		if sleepErr := d.backoff(ctx, attempt); sleepErr != nil {
			err = sleepErr
			break
		}
	}
	lease.Release(invalidate)

	if err != nil {
		d.recordFailure(rec.ID, err)
		return nil, err
	}
	if err := d.registry.ReplaceStatus(context.Background(), rec.ID, status, device.ReachabilityOnline); err != nil {
		d.logger.Warn("status refresh not persisted", "device_id", rec.ID, "error", err)
	}
	return status, nil
}

// run drives the attempt loop while owning the lease. It always releases
// the lease and always delivers exactly one outcome, even when the caller
// has stopped listening.
func (d *Dispatcher) run(ctx context.Context, lease *Lease, rec *device.Record, op Operation, params transport.Params, start time.Time, done chan<- Outcome) {
	var out Outcome
	invalidate := false

	for attempt := 1; attempt <= d.cfg.RetryCeiling; attempt++ {
		status, err := d.attempt(lease, rec, op, params)
		if err == nil {
			invalidate = false
			out = Outcome{
				DeviceID: op.DeviceID,
				Command:  op.Command,
				OK:       true,
				Attempts: attempt,
				Status:   status,
				Elapsed:  time.Since(start),
			}
			if upErr := d.registry.ReplaceStatus(context.Background(), rec.ID, status, device.ReachabilityOnline); upErr != nil {
				d.logger.Warn("command outcome not persisted", "device_id", rec.ID, "error", upErr)
			}
			break
		}

		if errors.Is(err, ErrInvalidCommand) || errors.Is(err, ErrInvalidValue) {
			// Command-level fault discovered against live state, not a
			// transport failure. No retry, no reachability change.
			out = d.fail(op, start, attempt, ErrKindInvalidCommand, err)
			break
		}

		// Session state is unknown after any transport failure; a retry
		// must open fresh.
		d.dropSession(lease)
		invalidate = true

		if transport.IsPermanent(err) {
			out = d.fail(op, start, attempt, ErrKindTransportPermanent, err)
			d.recordFailure(rec.ID, err)
			break
		}
		if attempt == d.cfg.RetryCeiling {
			out = d.fail(op, start, attempt, ErrKindTransportTransient, err)
			d.recordFailure(rec.ID, err)
			break
		}
		if ctx.Err() != nil {
			// Caller gone; record what we know and stop burning retries.
			out = d.fail(op, start, attempt, ErrKindTimeout,
				fmt.Errorf("retries abandoned after %v: %w", err, ctx.Err()))
			d.recordFailure(rec.ID, err)
			break
		}
		d.logger.Debug("transient transport failure, retrying",
			"device_id", op.DeviceID, "command", string(op.Command),
			"attempt", attempt, "error", err)
		if sleepErr := d.backoff(ctx, attempt); sleepErr != nil {
			out = d.fail(op, start, attempt, ErrKindTimeout, sleepErr)
			d.recordFailure(rec.ID, err)
			break
		}
	}

	lease.Release(invalidate)
	done <- out
}

// attempt performs one full transport cycle: ensure a session, resolve
// toggle against live state, send, and read back the resulting status.
func (d *Dispatcher) attempt(lease *Lease, rec *device.Record, op Operation, params transport.Params) (device.Status, error) {
	callCtx, cancel := context.WithTimeout(context.Background(), d.cfg.CallTimeout)
	defer cancel()

	sess, err := d.session(callCtx, lease, rec)
	if err != nil {
		return nil, err
	}

	if op.Command == CommandToggle {
		params, err = d.toggleParams(callCtx, sess, rec)
		if err != nil {
			return nil, err
		}
	}

	if _, err := d.adapter.Send(callCtx, sess, params); err != nil {
		return nil, err
	}

	raw, err := d.adapter.Status(callCtx, sess)
	if err != nil {
		// The command itself landed; report the sent values as the best
		// known resulting state rather than failing the dispatch.
		d.logger.Warn("post-command status read failed, using sent values",
			"device_id", rec.ID, "error", err)
		raw = transport.Params{}
		for dps, v := range params {
			raw[dps] = v
		}
	}
	return device.Status(raw), nil
}

// readStatus performs one status read over the leased slot.
func (d *Dispatcher) readStatus(lease *Lease, rec *device.Record) (device.Status, error) {
	callCtx, cancel := context.WithTimeout(context.Background(), d.cfg.CallTimeout)
	defer cancel()

	sess, err := d.session(callCtx, lease, rec)
	if err != nil {
		return nil, err
	}
	raw, err := d.adapter.Status(callCtx, sess)
	if err != nil {
		return nil, err
	}
	return device.Status(raw), nil
}

// session returns the lease's cached session, opening a fresh one when the
// slot is cold.
func (d *Dispatcher) session(ctx context.Context, lease *Lease, rec *device.Record) (transport.Session, error) {
	if sess := lease.Session(); sess != nil {
		return sess, nil
	}
	sess, err := d.adapter.Open(ctx, transport.Endpoint{
		DeviceID:        rec.ID,
		Address:         rec.Address,
		CredentialKey:   rec.CredentialKey,
		ProtocolVersion: rec.ProtocolVersion,
	})
	if err != nil {
		return nil, err
	}
	lease.SetSession(sess)
	return sess, nil
}

// toggleParams resolves toggle into an explicit power write by reading the
// device's current power state inside the held session.
func (d *Dispatcher) toggleParams(ctx context.Context, sess transport.Session, rec *device.Record) (transport.Params, error) {
	status, err := d.adapter.Status(ctx, sess)
	if err != nil {
		return nil, err
	}
	dps := powerDPS(rec.Kind)
	cur, ok := status[dps].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: toggle needs boolean power state at dps %s", ErrInvalidCommand, dps)
	}
	return transport.Params{dps: !cur}, nil
}

// dropSession closes and forgets the lease's cached session.
func (d *Dispatcher) dropSession(lease *Lease) {
	if sess := lease.Session(); sess != nil {
		d.adapter.Close(sess) //nolint:errcheck // session is being discarded
		lease.SetSession(nil)
	}
}

// backoff sleeps for min(base << (attempt-1), cap), or returns early if ctx
// is cancelled.
func (d *Dispatcher) backoff(ctx context.Context, attempt int) error {
	delay := d.cfg.BackoffBase << (attempt - 1)
	if delay > d.cfg.BackoffCap || delay <= 0 {
		delay = d.cfg.BackoffCap
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail builds a failure outcome and logs it.
func (d *Dispatcher) fail(op Operation, start time.Time, attempts int, kind ErrorKind, err error) Outcome {
	d.logger.Debug("command failed",
		"device_id", op.DeviceID, "command", string(op.Command),
		"error_kind", string(kind), "attempts", attempts, "error", err)
	return Outcome{
		DeviceID:  op.DeviceID,
		Command:   op.Command,
		ErrorKind: kind,
		Error:     err.Error(),
		Attempts:  attempts,
		Elapsed:   time.Since(start),
	}
}

// recordFailure marks the device offline with its last error. Persistence
// uses a background context so a vanished caller cannot skip the write.
func (d *Dispatcher) recordFailure(deviceID string, err error) {
	if upErr := d.registry.UpdateStatus(context.Background(), deviceID, nil,
		device.ReachabilityOffline, err.Error()); upErr != nil {
		d.logger.Warn("failure not persisted", "device_id", deviceID, "error", upErr)
	}
}
