package automation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type published struct {
	Topic   string
	Payload string
}

// mockPublisher captures published messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (m *mockPublisher) Publish(_ context.Context, topic, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{Topic: topic, Payload: payload})
	return nil
}

func (m *mockPublisher) getMessages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func (m *mockPublisher) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// mockAudio records audio commands as "play:<track>[:loop]", "pause",
// "resume" and "stop".
type mockAudio struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockAudio) add(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return nil
}

func (m *mockAudio) Play(_ context.Context, track string, loop bool) error {
	if loop {
		return m.add("play:" + track + ":loop")
	}
	return m.add("play:" + track)
}

func (m *mockAudio) Pause(context.Context) error  { return m.add("pause") }
func (m *mockAudio) Resume(context.Context) error { return m.add("resume") }
func (m *mockAudio) Stop(context.Context) error   { return m.add("stop") }

func (m *mockAudio) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockAudio) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// mockScenarios records triggers as "<device>/<scenario>". Scenarios not in
// known are reported as not found.
type mockScenarios struct {
	mu    sync.Mutex
	known map[string]bool
	calls []string
}

func (m *mockScenarios) TriggerScenario(_ context.Context, deviceID, scenarioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deviceID + "/" + scenarioID
	m.calls = append(m.calls, key)
	if m.known != nil && !m.known[key] {
		return fmt.Errorf("%w: scenario %s", device.ErrNotFound, key)
	}
	return nil
}

func (m *mockScenarios) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockRecorder captures recorded events.
type mockRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockRecorder) RecordTemplateEvent(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockRecorder) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = string(ev.Kind) + ":" + ev.Name
	}
	return out
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Helper ─────────────────────────────────────────────────────────────────

type dispatchEnv struct {
	registry   *Registry
	dispatcher *Dispatcher
	publisher  *mockPublisher
	audio      *mockAudio
	scenarios  *mockScenarios
	recorder   *mockRecorder
	clock      *fakeClock
}

func setupDispatcher(t *testing.T, devices ...device.Device) *dispatchEnv {
	t.Helper()
	env := &dispatchEnv{
		registry:  NewRegistry(),
		publisher: &mockPublisher{},
		audio:     &mockAudio{},
		scenarios: &mockScenarios{},
		recorder:  &mockRecorder{},
		clock:     newFakeClock(),
	}
	env.registry.Rebuild(devices)
	env.dispatcher = NewDispatcher(env.registry, Options{
		Publisher: env.publisher,
		Audio:     env.audio,
		Scenarios: env.scenarios,
		Recorder:  env.recorder,
		Now:       env.clock.Now,
	})
	return env
}

func uidTemplate() *device.UIDTemplate {
	return &device.UIDTemplate{
		Slots: []device.UIDSlot{
			{SourceID: "reader/a", Label: "A", Values: []string{"1111"}},
			{SourceID: "reader/b", Label: "B", Values: []string{"2222", "3333"}},
		},
		SuccessTopic:         "door/open",
		SuccessPayload:       "1",
		FailTopic:            "door/alarm",
		FailPayload:          "bad",
		SuccessAudioTrack:    "ok.mp3",
		FailAudioTrack:       "fail.mp3",
		SuccessSignalTopic:   "lamp/green",
		SuccessSignalPayload: "on",
		FailSignalTopic:      "lamp/red",
		FailSignalPayload:    "on",
	}
}

func signalTemplate() *device.SignalTemplate {
	return &device.SignalTemplate{
		SignalTopic:        "relay/1",
		SignalPayloadOn:    "ON",
		SignalPayloadOff:   "OFF",
		HeartbeatTopic:     "pedal/hb",
		RequiredHoldMS:     5000,
		HeartbeatTimeoutMS: 2000,
		HoldTrack:          "hold.mp3",
		HoldTrackLoop:      true,
		CompleteTrack:      "done.mp3",
	}
}

func deviceWith(id string, tpl device.Template) device.Device {
	return device.Device{ID: id, Name: id, Template: tpl}
}
