package automation

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
	"github.com/nerrad567/gray-logic-devicecore/internal/template"
)

// Well-known scenario ids triggered by terminal template events.
const (
	ScenarioUIDSuccess     = "uid_success"
	ScenarioUIDFail        = "uid_fail"
	ScenarioSignalComplete = "signal_complete"
)

// Publisher sends MQTT messages.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// AudioPlayer controls the audio subsystem. Pause, Resume and Stop act on
// the current track.
type AudioPlayer interface {
	Play(ctx context.Context, track string, loop bool) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ScenarioTrigger starts a device scenario in the step interpreter.
// An unknown scenario is reported with an error wrapping device.ErrNotFound.
type ScenarioTrigger interface {
	TriggerScenario(ctx context.Context, deviceID, scenarioID string) error
}

// Recorder receives every template event the dispatcher acts on.
type Recorder interface {
	RecordTemplateEvent(ctx context.Context, ev Event) error
}

// Event is one template runtime outcome.
type Event struct {
	DeviceID string
	Kind     device.TemplateKind

	// Name is the matcher event ("accepted", "start", "fired", ...).
	Name     string
	Topic    string
	Payload  string
	Scenario string

	// AccumulatedMS is the hold time reached, for signal events.
	AccumulatedMS uint32
	At            time.Time
}

// Options configures a Dispatcher. Nil collaborators are skipped.
type Options struct {
	Publisher Publisher
	Audio     AudioPlayer
	Scenarios ScenarioTrigger
	Recorder  Recorder
	Logger    Logger

	// Now is the clock used for heartbeat ticks. Defaults to time.Now.
	Now func() time.Time
}

// Dispatcher routes MQTT messages and flag changes through the registry's
// runtimes and carries out the resulting side effects.
//
// Matchers run under the registry lock; publishing, audio and scenario
// triggers run after it is released.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	registry  *Registry
	publisher Publisher
	audio     AudioPlayer
	scenarios ScenarioTrigger
	recorder  Recorder
	logger    Logger
	now       func() time.Time
	epoch     time.Time
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		publisher: opts.Publisher,
		audio:     opts.Audio,
		scenarios: opts.Scenarios,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.epoch = d.now()
	return d
}

// HandleMessage feeds an MQTT message to every UID runtime with a slot on
// topic and ticks every signal runtime whose heartbeat topic is topic.
// Both checks always run. Reports whether any runtime matched.
func (d *Dispatcher) HandleMessage(ctx context.Context, topic, payload string) bool {
	if topic == "" {
		return false
	}

	r := d.registry
	r.mu.Lock()
	var fx effects
	matched := false
	for _, e := range r.uid {
		if !e.validator.Listens(topic) {
			continue
		}
		matched = true
		d.handleUID(&fx, e, topic, payload)
	}

	nowMS := d.nowMS()
	for _, e := range r.signal {
		if e.tpl.HeartbeatTopic != topic {
			continue
		}
		matched = true
		d.handleSignal(&fx, e, topic, nowMS)
	}
	r.mu.Unlock()

	d.run(ctx, fx)
	return matched
}

// HandleFlag reports a flag's new state to every flag trigger runtime.
// Each runtime fires at most one rule, and only on a change of state.
// Reports whether any rule fired.
func (d *Dispatcher) HandleFlag(ctx context.Context, name string, state bool) bool {
	if name == "" {
		return false
	}

	r := d.registry
	r.mu.Lock()
	var fx effects
	fired := false
	for _, e := range r.flag {
		rule, ok := e.matcher.Handle(name, state)
		if !ok {
			continue
		}
		fired = true
		fx.record(Event{
			DeviceID: e.deviceID,
			Kind:     device.TemplateFlagTrigger,
			Name:     "fired",
			Topic:    rule.Flag,
			Scenario: rule.Scenario,
		})
		fx.trigger(e.deviceID, rule.Scenario)
	}
	r.mu.Unlock()

	d.run(ctx, fx)
	return fired
}

// HandleTopicRule matches an MQTT message against every MQTT trigger
// runtime. Each runtime fires its first matching rule. Reports whether any
// rule fired.
func (d *Dispatcher) HandleTopicRule(ctx context.Context, topic, payload string) bool {
	if topic == "" {
		return false
	}

	r := d.registry
	r.mu.Lock()
	var fx effects
	fired := false
	for _, e := range r.topic {
		rule, ok := e.matcher.Match(topic, payload)
		if !ok {
			continue
		}
		fired = true
		fx.record(Event{
			DeviceID: e.deviceID,
			Kind:     device.TemplateTopicTrigger,
			Name:     "fired",
			Topic:    topic,
			Payload:  payload,
			Scenario: rule.Scenario,
		})
		fx.trigger(e.deviceID, rule.Scenario)
	}
	r.mu.Unlock()

	d.run(ctx, fx)
	return fired
}

// handleUID drives one UID runtime. Terminal events reset the validator
// so the next value starts a new round.
func (d *Dispatcher) handleUID(fx *effects, e *uidEntry, topic, payload string) {
	res := e.validator.HandleValue(topic, payload)
	d.logger.Info("uid value",
		"device_id", e.deviceID,
		"topic", topic,
		"event", res.Event.String(),
		"payload", payload,
	)
	if res.Event == template.UIDNone {
		return
	}

	ev := Event{
		DeviceID: e.deviceID,
		Kind:     device.TemplateUID,
		Name:     res.Event.String(),
		Topic:    topic,
		Payload:  payload,
	}

	tpl := e.tpl
	switch res.Event {
	case template.UIDSuccess:
		fx.publish(tpl.SuccessTopic, tpl.SuccessPayload)
		fx.publish(tpl.SuccessSignalTopic, tpl.SuccessSignalPayload)
		fx.play(tpl.SuccessAudioTrack, false)
		fx.trigger(e.deviceID, ScenarioUIDSuccess)
		ev.Scenario = ScenarioUIDSuccess
	case template.UIDInvalid:
		fx.publish(tpl.FailTopic, tpl.FailPayload)
		fx.publish(tpl.FailSignalTopic, tpl.FailSignalPayload)
		fx.play(tpl.FailAudioTrack, false)
		fx.trigger(e.deviceID, ScenarioUIDFail)
		ev.Scenario = ScenarioUIDFail
	}
	fx.record(ev)

	if res.Event.Terminal() {
		e.validator.Reset()
	}
}

// handleSignal ticks one signal runtime and derives audio and MQTT effects
// from the timer event.
func (d *Dispatcher) handleSignal(fx *effects, e *signalEntry, topic string, nowMS uint64) {
	res := e.timer.HandleTick(nowMS)
	if res.Event == template.SignalNone {
		return
	}

	tpl := e.tpl
	ev := Event{
		DeviceID:      e.deviceID,
		Kind:          device.TemplateSignalHold,
		Name:          res.Event.String(),
		Topic:         topic,
		AccumulatedMS: res.AccumulatedMS,
	}

	switch res.Event {
	case template.SignalStart:
		if tpl.HoldTrack != "" {
			switch {
			case !e.holdStarted:
				fx.play(tpl.HoldTrack, tpl.HoldTrackLoop)
				e.holdStarted, e.holdPaused, e.holdActive = true, false, true
			case e.holdPaused:
				fx.resume()
				e.holdPaused, e.holdActive = false, true
			}
		}

	case template.SignalStop:
		if e.holdActive {
			fx.pause()
			e.holdPaused, e.holdActive = true, false
		}
		if tpl.SignalPayloadOff != "" {
			fx.publish(tpl.SignalTopic, tpl.SignalPayloadOff)
		}

	case template.SignalCompleted:
		if e.holdActive || e.holdPaused {
			fx.stop()
		}
		e.holdStarted, e.holdPaused, e.holdActive = false, false, false
		fx.play(tpl.CompleteTrack, false)
		if tpl.SignalPayloadOn != "" {
			fx.publish(tpl.SignalTopic, tpl.SignalPayloadOn)
		}
		fx.trigger(e.deviceID, ScenarioSignalComplete)
		ev.Scenario = ScenarioSignalComplete
	}

	d.logger.Info("signal tick",
		"device_id", e.deviceID,
		"event", res.Event.String(),
		"accumulated_ms", res.AccumulatedMS,
	)
	fx.record(ev)
}

// nowMS is the dispatcher clock in milliseconds since construction.
func (d *Dispatcher) nowMS() uint64 {
	elapsed := d.now().Sub(d.epoch)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed.Milliseconds())
}
