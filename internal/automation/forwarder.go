package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// ScenarioLookup resolves a device scenario. The configuration store
// implements it.
type ScenarioLookup interface {
	FindScenario(deviceID, scenarioID string) (device.Scenario, error)
}

// ScenarioRequest is the message published to the step interpreter.
type ScenarioRequest struct {
	DeviceID    string          `json:"device_id"`
	ScenarioID  string          `json:"scenario_id"`
	Name        string          `json:"name,omitempty"`
	Steps       json.RawMessage `json:"steps"`
	RequestedAt string          `json:"requested_at"`
}

// ScenarioForwarder triggers scenarios by publishing their step script to
// the external interpreter over MQTT.
type ScenarioForwarder struct {
	lookup    ScenarioLookup
	publisher Publisher
	topic     string
	now       func() time.Time
}

// NewScenarioForwarder creates a forwarder publishing requests on topic.
func NewScenarioForwarder(lookup ScenarioLookup, publisher Publisher, topic string) *ScenarioForwarder {
	return &ScenarioForwarder{
		lookup:    lookup,
		publisher: publisher,
		topic:     topic,
		now:       time.Now,
	}
}

// TriggerScenario looks up the scenario and publishes a request for it.
// Returns an error wrapping device.ErrNotFound when the device or scenario
// does not exist.
func (f *ScenarioForwarder) TriggerScenario(ctx context.Context, deviceID, scenarioID string) error {
	sc, err := f.lookup.FindScenario(deviceID, scenarioID)
	if err != nil {
		return err
	}
	if f.publisher == nil {
		return ErrMQTTUnavailable
	}

	steps, err := device.MarshalSteps(sc.Steps)
	if err != nil {
		return fmt.Errorf("encoding scenario %s/%s: %w", deviceID, scenarioID, err)
	}
	payload, err := json.Marshal(ScenarioRequest{
		DeviceID:    deviceID,
		ScenarioID:  sc.ID,
		Name:        sc.Name,
		Steps:       steps,
		RequestedAt: f.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding scenario request: %w", err)
	}

	if err := f.publisher.Publish(ctx, f.topic, string(payload)); err != nil {
		return fmt.Errorf("publishing scenario %s/%s: %w", deviceID, scenarioID, err)
	}
	return nil
}
