package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/transport"
)

func newTestBatcher(t *testing.T, adapter transport.Adapter, records ...device.Record) (*Batcher, *fakeAdapter) {
	t.Helper()
	fake, _ := adapter.(*fakeAdapter)
	d, _ := newTestDispatcher(t, adapter, testConfig(), records...)
	return NewBatcher(d, 4, testLogger()), fake
}

func TestBatchAllSucceed(t *testing.T) {
	b, _ := newTestBatcher(t, newFakeAdapter(),
		bulbRecord("bulb-1"), bulbRecord("bulb-2"), bulbRecord("bulb-3"))

	ops := []Operation{
		{DeviceID: "bulb-1", Command: CommandTurnOn},
		{DeviceID: "bulb-2", Command: CommandTurnOn},
		{DeviceID: "bulb-3", Command: CommandTurnOff},
	}
	result := b.Run(context.Background(), ops)

	if result.BatchID == "" {
		t.Error("batch id not assigned")
	}
	if result.Succeeded != 3 || result.Failed != 0 {
		t.Errorf("succeeded/failed = %d/%d, want 3/0", result.Succeeded, result.Failed)
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(result.Outcomes))
	}
	for i, out := range result.Outcomes {
		if out.DeviceID != ops[i].DeviceID || out.Command != ops[i].Command {
			t.Errorf("outcome %d is for %s/%s, want %s/%s",
				i, out.DeviceID, out.Command, ops[i].DeviceID, ops[i].Command)
		}
	}
}

func TestBatchPartialFailure(t *testing.T) {
	adapter := newFakeAdapter()
	b, _ := newTestBatcher(t, adapter, bulbRecord("bulb-1"))

	ops := []Operation{
		{DeviceID: "bulb-1", Command: CommandTurnOn},
		{DeviceID: "ghost", Command: CommandTurnOn},
		{DeviceID: "bulb-1", Command: CommandSetBrightness, Value: 60},
	}
	result := b.Run(context.Background(), ops)

	if result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 2/1", result.Succeeded, result.Failed)
	}
	if result.Outcomes[1].ErrorKind != ErrKindNotFound {
		t.Errorf("outcome 1 kind = %s, want not_found", result.Outcomes[1].ErrorKind)
	}
	if !result.Outcomes[0].OK || !result.Outcomes[2].OK {
		t.Error("unrelated operations failed alongside the bad one")
	}
}

func TestBatchSameDeviceOrdered(t *testing.T) {
	adapter := newFakeAdapter()
	b, _ := newTestBatcher(t, adapter, bulbRecord("bulb-1"))

	ops := []Operation{
		{DeviceID: "bulb-1", Command: CommandTurnOn},
		{DeviceID: "bulb-1", Command: CommandSetBrightness, Value: 40},
		{DeviceID: "bulb-1", Command: CommandSetBrightness, Value: 80},
	}
	result := b.Run(context.Background(), ops)

	if result.Succeeded != 3 {
		t.Fatalf("succeeded = %d, want 3: %+v", result.Succeeded, result.Outcomes)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.sent) != 3 {
		t.Fatalf("sends = %d, want 3", len(adapter.sent))
	}
	if adapter.sent[0]["20"] != true {
		t.Errorf("first send = %v, want power on", adapter.sent[0])
	}
	if adapter.sent[1]["22"] != 400 {
		t.Errorf("second send = %v, want brightness 400", adapter.sent[1])
	}
	if adapter.sent[2]["22"] != 800 {
		t.Errorf("third send = %v, want brightness 800", adapter.sent[2])
	}
}

func TestBatchDeviceFailureIsolated(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.openErrs = []error{
		transport.Permanent(errors.New("bad credential key")),
	}
	b, _ := newTestBatcher(t, adapter, bulbRecord("bulb-1"), bulbRecord("bulb-2"))

	// bulb-1 is dispatched first and eats the scripted open failure;
	// bulb-2 must still complete.
	ops := []Operation{
		{DeviceID: "bulb-1", Command: CommandTurnOn},
		{DeviceID: "bulb-1", Command: CommandTurnOff},
	}
	result := b.Run(context.Background(), ops)
	if result.Failed == 0 {
		t.Fatal("scripted failure never surfaced")
	}

	later := b.Run(context.Background(), []Operation{{DeviceID: "bulb-2", Command: CommandTurnOn}})
	if later.Succeeded != 1 {
		t.Errorf("healthy device affected by sick one: %+v", later.Outcomes)
	}
}

func TestBatchEmpty(t *testing.T) {
	b, _ := newTestBatcher(t, newFakeAdapter())

	result := b.Run(context.Background(), nil)
	if len(result.Outcomes) != 0 || result.Succeeded != 0 || result.Failed != 0 {
		t.Errorf("empty batch result = %+v", result)
	}
}
