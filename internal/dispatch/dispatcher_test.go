package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/config"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
	"github.com/nerrad567/tuyalink-core/internal/transport"
)

// memRepository is an in-memory device.Repository for dispatcher tests.
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

// fakeAdapter scripts transport behaviour per call. Error queues are
// consumed one entry per call; an exhausted queue means success.
type fakeAdapter struct {
	mu       sync.Mutex
	openErrs []error
	sendErrs []error
	status   transport.Params

	opens    int
	sends    int
	statuses int
	closes   int
	sent     []transport.Params
	slow     time.Duration
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{status: transport.Params{"20": true, "22": 500}}
}

func (f *fakeAdapter) Open(_ context.Context, ep transport.Endpoint) (transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &stubSession{id: ep.DeviceID}, nil
}

func (f *fakeAdapter) Send(_ context.Context, _ transport.Session, params transport.Params) (transport.Params, error) {
	f.mu.Lock()
	slow := f.slow
	f.sends++
	var err error
	if len(f.sendErrs) > 0 {
		err = f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, params)
		for dps, v := range params {
			f.status[dps] = v
		}
	}
	f.mu.Unlock()
	if slow > 0 {
		time.Sleep(slow)
	}
	return params, err
}

func (f *fakeAdapter) Status(_ context.Context, _ transport.Session) (transport.Params, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	snapshot := make(transport.Params, len(f.status))
	for k, v := range f.status {
		snapshot[k] = v
	}
	return snapshot, nil
}

func (f *fakeAdapter) Close(transport.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeAdapter) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func testConfig() Config {
	return Config{
		RetryCeiling:   3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		AcquireTimeout: time.Second,
		CallTimeout:    time.Second,
	}
}

func testRegistry(t *testing.T, records ...device.Record) *device.Registry {
	t.Helper()
	repo := newMemRepository()
	reg := device.NewRegistry(repo)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := reg.Seed(context.Background(), records); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return reg
}

func bulbRecord(id string) device.Record {
	return device.Record{
		ID:              id,
		DisplayName:     "Test Bulb",
		Address:         "192.168.1.40",
		CredentialKey:   "0123456789abcdef",
		ProtocolVersion: "3.3",
		Kind:            device.KindBulb,
	}
}

func newTestDispatcher(t *testing.T, adapter transport.Adapter, cfg Config, records ...device.Record) (*Dispatcher, *device.Registry) {
	t.Helper()
	reg := testRegistry(t, records...)
	gate := NewGate(time.Minute, adapter.Close)
	return NewDispatcher(reg, gate, adapter, cfg, testLogger()), reg
}

func TestDispatchSuccess(t *testing.T) {
	adapter := newFakeAdapter()
	d, reg := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if !out.OK {
		t.Fatalf("outcome not OK: %s %s", out.ErrorKind, out.Error)
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", out.Attempts)
	}
	if out.Status["20"] != true {
		t.Errorf("resulting status = %v, want power on", out.Status)
	}

	rec, err := reg.Get(context.Background(), "bulb-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Reachability != device.ReachabilityOnline {
		t.Errorf("reachability = %s, want online", rec.Reachability)
	}
	if rec.LastStatus["20"] != true {
		t.Errorf("registry status = %v, want power on", rec.LastStatus)
	}
}

func TestDispatchUnknownDevice(t *testing.T) {
	d, _ := newTestDispatcher(t, newFakeAdapter(), testConfig())

	out := d.Dispatch(context.Background(), Operation{DeviceID: "ghost", Command: CommandTurnOn})
	if out.OK || out.ErrorKind != ErrKindNotFound {
		t.Errorf("outcome = %+v, want not_found", out)
	}
}

func TestDispatchPendingConfigRejected(t *testing.T) {
	adapter := newFakeAdapter()
	reg := testRegistry(t)
	if _, _, err := reg.MergeDiscovered(context.Background(), "new-dev", "192.168.1.77", "3.3"); err != nil {
		t.Fatalf("MergeDiscovered: %v", err)
	}
	gate := NewGate(time.Minute, adapter.Close)
	d := NewDispatcher(reg, gate, adapter, testConfig(), testLogger())

	out := d.Dispatch(context.Background(), Operation{DeviceID: "new-dev", Command: CommandTurnOn})
	if out.OK || out.ErrorKind != ErrKindConfigInvalid {
		t.Errorf("outcome = %+v, want config_invalid", out)
	}
	if adapter.sendCount() != 0 {
		t.Error("pending device reached the transport")
	}
}

func TestDispatchInvalidCommandNoTransport(t *testing.T) {
	adapter := newFakeAdapter()
	plug := bulbRecord("plug-1")
	plug.Kind = device.KindOutlet
	d, _ := newTestDispatcher(t, adapter, testConfig(), plug)

	out := d.Dispatch(context.Background(), Operation{DeviceID: "plug-1", Command: CommandSetColour,
		Value: map[string]any{"r": 255, "g": 0, "b": 0}})
	if out.OK || out.ErrorKind != ErrKindInvalidCommand {
		t.Errorf("outcome = %+v, want invalid_command", out)
	}
	if adapter.opens != 0 || adapter.sendCount() != 0 {
		t.Error("invalid command reached the transport")
	}
}

func TestDispatchRetriesTransientThenSucceeds(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.sendErrs = []error{
		transport.Transient(errors.New("read timeout")),
		transport.Transient(errors.New("read timeout")),
	}
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if !out.OK {
		t.Fatalf("outcome not OK after retries: %s", out.Error)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	// Each failed attempt invalidates the session, so three opens total.
	if adapter.opens != 3 {
		t.Errorf("opens = %d, want 3", adapter.opens)
	}
}

func TestDispatchRetryCeilingExhausted(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.sendErrs = []error{
		transport.Transient(errors.New("read timeout")),
		transport.Transient(errors.New("read timeout")),
		transport.Transient(errors.New("read timeout")),
	}
	d, reg := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if out.OK || out.ErrorKind != ErrKindTransportTransient {
		t.Fatalf("outcome = %+v, want transport_transient", out)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want exactly the ceiling of 3", out.Attempts)
	}
	if adapter.sendCount() != 3 {
		t.Errorf("sends = %d, want 3", adapter.sendCount())
	}

	rec, _ := reg.Get(context.Background(), "bulb-1")
	if rec.Reachability != device.ReachabilityOffline {
		t.Errorf("reachability = %s, want offline", rec.Reachability)
	}
	if rec.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestDispatchPermanentFaultNoRetry(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.sendErrs = []error{transport.Permanent(errors.New("bad credential key"))}
	d, reg := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if out.OK || out.ErrorKind != ErrKindTransportPermanent {
		t.Fatalf("outcome = %+v, want transport_permanent", out)
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (permanent faults never retry)", out.Attempts)
	}
	if adapter.sendCount() != 1 {
		t.Errorf("sends = %d, want 1", adapter.sendCount())
	}

	rec, _ := reg.Get(context.Background(), "bulb-1")
	if rec.Reachability != device.ReachabilityOffline {
		t.Errorf("reachability = %s, want offline", rec.Reachability)
	}
}

func TestDispatchUnclassifiedErrorRetried(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.sendErrs = []error{errors.New("connection reset by peer")}
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if !out.OK {
		t.Fatalf("outcome not OK: %s", out.Error)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (unclassified treated as transient)", out.Attempts)
	}
}

func TestDispatchToggleReadsLiveState(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.status = transport.Params{"20": true}
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandToggle})
	if !out.OK {
		t.Fatalf("toggle failed: %s", out.Error)
	}
	adapter.mu.Lock()
	sent := adapter.sent[0]
	adapter.mu.Unlock()
	if sent["20"] != false {
		t.Errorf("toggle of lit bulb sent %v, want power off", sent)
	}
	if out.Status["20"] != false {
		t.Errorf("resulting status = %v, want power off", out.Status)
	}
}

func TestDispatchToggleMissingPowerState(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.status = transport.Params{"9": "countdown"}
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandToggle})
	if out.OK || out.ErrorKind != ErrKindInvalidCommand {
		t.Errorf("outcome = %+v, want invalid_command", out)
	}
	if adapter.sendCount() != 0 {
		t.Error("toggle without power state still sent a command")
	}
}

func TestDispatchSessionReuseAcrossCommands(t *testing.T) {
	adapter := newFakeAdapter()
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	for i := 0; i < 3; i++ {
		out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
		if !out.OK {
			t.Fatalf("dispatch %d failed: %s", i, out.Error)
		}
	}
	if adapter.opens != 1 {
		t.Errorf("opens = %d, want 1 (warm session reused)", adapter.opens)
	}
}

func TestDispatchCallerDeadlineLeavesSlotHeld(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.slow = 200 * time.Millisecond
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := d.Dispatch(ctx, Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if out.OK || out.ErrorKind != ErrKindTimeout {
		t.Fatalf("outcome = %+v, want timeout", out)
	}

	// The slot stays held until the in-flight call returns, then frees.
	acquireCtx, acquireCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer acquireCancel()
	if _, err := d.gate.Acquire(acquireCtx, "bulb-1"); !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("slot free while call in flight, err = %v", err)
	}

	lateCtx, lateCancel := context.WithTimeout(context.Background(), time.Second)
	defer lateCancel()
	lease, err := d.gate.Acquire(lateCtx, "bulb-1")
	if err != nil {
		t.Fatalf("slot never released after call returned: %v", err)
	}
	lease.Release(false)
}

func TestDispatchSerialisesSameDevice(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.slow = 20 * time.Millisecond
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
			if !out.OK {
				t.Errorf("concurrent dispatch failed: %s", out.Error)
			}
		}()
	}
	wg.Wait()

	// All four commands must have reached the device, one at a time on
	// the wire even though callers overlapped.
	if adapter.sendCount() != 4 {
		t.Errorf("sends = %d, want 4", adapter.sendCount())
	}
}

func TestQueryStatus(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.status = transport.Params{"20": true, "22": 750}
	d, reg := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	status, err := d.QueryStatus(context.Background(), "bulb-1")
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if status["22"] != 750 {
		t.Errorf("status = %v, want brightness 750", status)
	}

	rec, _ := reg.Get(context.Background(), "bulb-1")
	if rec.LastStatus["22"] != 750 {
		t.Errorf("registry snapshot = %v, want brightness 750", rec.LastStatus)
	}
	if rec.Reachability != device.ReachabilityOnline {
		t.Errorf("reachability = %s, want online", rec.Reachability)
	}
}

func TestQueryStatusUnknownDevice(t *testing.T) {
	d, _ := newTestDispatcher(t, newFakeAdapter(), testConfig())
	if _, err := d.QueryStatus(context.Background(), "ghost"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDispatchOpenFailureRetried(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.openErrs = []error{transport.Transient(fmt.Errorf("connect: no route to host"))}
	d, _ := newTestDispatcher(t, adapter, testConfig(), bulbRecord("bulb-1"))

	out := d.Dispatch(context.Background(), Operation{DeviceID: "bulb-1", Command: CommandTurnOn})
	if !out.OK {
		t.Fatalf("outcome not OK: %s", out.Error)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", out.Attempts)
	}
}
