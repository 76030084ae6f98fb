package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/dispatch"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/mqtt"
)

// commandTimeout bounds one MQTT-originated command end to end,
// gate wait and retries included.
const commandTimeout = 60 * time.Second

// qosCommands is the QoS used for the command subscription.
const qosCommands = 1

// MQTTClient is the broker surface the bridge needs. Satisfied by
// *mqtt.Client; narrowed for tests.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishEvent(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// Telemetry receives dispatch outcomes for time-series recording.
// Satisfied by *influxdb.Client; nil disables recording.
type Telemetry interface {
	WriteDispatchOutcome(deviceID, command string, ok bool, errorKind string, attempts int, elapsed time.Duration)
}

// Bridge connects the dispatcher to the MQTT bus. Commands arrive on
// tuyalink/command/{device_id} and every terminal outcome is published
// to tuyalink/event/dispatch, with the device's resulting state retained
// on tuyalink/state/{device_id}.
type Bridge struct {
	mqtt       MQTTClient
	dispatcher *dispatch.Dispatcher
	registry   *device.Registry
	telemetry  Telemetry
	logger     *logging.Logger
	topics     mqtt.Topics
}

// New wires a bridge. telemetry may be nil.
func New(client MQTTClient, dispatcher *dispatch.Dispatcher, registry *device.Registry, telemetry Telemetry, logger *logging.Logger) *Bridge {
	return &Bridge{
		mqtt:       client,
		dispatcher: dispatcher,
		registry:   registry,
		telemetry:  telemetry,
		logger:     logger.With("component", "bridge"),
	}
}

// Start subscribes to the command topics. Each incoming message is
// dispatched in the paho handler goroutine; the gate serialises
// same-device commands regardless of how many arrive at once.
func (b *Bridge) Start() error {
	if err := b.mqtt.Subscribe(b.topics.AllDeviceCommands(), qosCommands, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}
	b.logger.Info("command bridge started", "topic", b.topics.AllDeviceCommands())
	return nil
}

// Stop unsubscribes from the command topics. In-flight dispatches run to
// completion under their own timeouts.
func (b *Bridge) Stop() error {
	return b.mqtt.Unsubscribe(b.topics.AllDeviceCommands())
}

// handleCommand processes one message from a command topic.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID := mqtt.DeviceIDFromTopic(topic)
	if deviceID == "" || deviceID == "+" {
		return fmt.Errorf("command topic %q has no device id", topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parsing command payload: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	kind, err := dispatch.ParseCommandKind(msg.Command)
	if err != nil {
		b.publishOutcome(msg, dispatch.Outcome{
			DeviceID:  deviceID,
			Command:   dispatch.CommandKind(msg.Command),
			ErrorKind: dispatch.ErrKindInvalidCommand,
			Error:     err.Error(),
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out := b.dispatcher.Dispatch(ctx, dispatch.Operation{
		DeviceID: deviceID,
		Command:  kind,
		Value:    msg.Value,
	})

	b.publishOutcome(msg, out)
	b.PublishState(deviceID)

	if b.telemetry != nil {
		b.telemetry.WriteDispatchOutcome(out.DeviceID, string(out.Command),
			out.OK, string(out.ErrorKind), out.Attempts, out.Elapsed)
	}
	return nil
}

// publishOutcome emits the terminal result on the dispatch event topic.
func (b *Bridge) publishOutcome(msg CommandMessage, out dispatch.Outcome) {
	payload, err := json.Marshal(OutcomeMessage{
		CommandID: msg.ID,
		Source:    msg.Source,
		Timestamp: time.Now().UTC(),
		Outcome:   out,
	})
	if err != nil {
		b.logger.Error("outcome not serialisable", "error", err)
		return
	}
	if err := b.mqtt.PublishEvent(b.topics.DispatchEvent(), payload); err != nil {
		b.logger.Warn("outcome event not published",
			"device_id", out.DeviceID, "error", err)
	}
}

// PublishState publishes the registry's current view of a device as a
// retained state message. Called after every bridge command; also usable
// by other components after status refreshes.
func (b *Bridge) PublishState(deviceID string) {
	rec, err := b.registry.Get(context.Background(), deviceID)
	if err != nil {
		return
	}

	payload, err := json.Marshal(StateMessage{
		DeviceID:     rec.ID,
		Status:       rec.LastStatus,
		Reachability: string(rec.Reachability),
		LastError:    rec.LastError,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("state not serialisable", "device_id", deviceID, "error", err)
		return
	}
	if err := b.mqtt.PublishRetained(b.topics.DeviceState(deviceID), payload); err != nil {
		b.logger.Warn("state not published", "device_id", deviceID, "error", err)
	}
}
