package automation

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

type effectKind int

const (
	effectPublish effectKind = iota
	effectPlay
	effectPause
	effectResume
	effectStop
	effectTrigger
	effectRecord
)

type effect struct {
	kind     effectKind
	topic    string
	payload  string
	track    string
	loop     bool
	deviceID string
	scenario string
	event    Event
}

// effects collects side effects under the registry lock, in the order they
// must be carried out.
type effects []effect

func (fx *effects) publish(topic, payload string) {
	if topic == "" {
		return
	}
	*fx = append(*fx, effect{kind: effectPublish, topic: topic, payload: payload})
}

func (fx *effects) play(track string, loop bool) {
	if track == "" {
		return
	}
	*fx = append(*fx, effect{kind: effectPlay, track: track, loop: loop})
}

func (fx *effects) pause()  { *fx = append(*fx, effect{kind: effectPause}) }
func (fx *effects) resume() { *fx = append(*fx, effect{kind: effectResume}) }
func (fx *effects) stop()   { *fx = append(*fx, effect{kind: effectStop}) }

func (fx *effects) trigger(deviceID, scenarioID string) {
	*fx = append(*fx, effect{kind: effectTrigger, deviceID: deviceID, scenario: scenarioID})
}

func (fx *effects) record(ev Event) {
	*fx = append(*fx, effect{kind: effectRecord, event: ev})
}

// run carries out fx. Failures are logged; a failed effect does not stop
// the ones after it.
func (d *Dispatcher) run(ctx context.Context, fx effects) {
	for _, e := range fx {
		switch e.kind {
		case effectPublish:
			d.publish(ctx, e.topic, e.payload)
		case effectPlay:
			if d.audio != nil {
				d.audioErr("play", e.track, d.audio.Play(ctx, e.track, e.loop))
			}
		case effectPause:
			if d.audio != nil {
				d.audioErr("pause", "", d.audio.Pause(ctx))
			}
		case effectResume:
			if d.audio != nil {
				d.audioErr("resume", "", d.audio.Resume(ctx))
			}
		case effectStop:
			if d.audio != nil {
				d.audioErr("stop", "", d.audio.Stop(ctx))
			}
		case effectTrigger:
			d.trigger(ctx, e.deviceID, e.scenario)
		case effectRecord:
			d.recordEvent(ctx, e.event)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, topic, payload string) {
	if d.publisher == nil {
		d.logger.Debug("no publisher, dropping message", "topic", topic)
		return
	}
	if err := d.publisher.Publish(ctx, topic, payload); err != nil {
		d.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (d *Dispatcher) audioErr(op, track string, err error) {
	if err != nil {
		d.logger.Warn("audio command failed", "op", op, "track", track, "error", err)
	}
}

// trigger starts a scenario. Scenarios are optional per device, so an
// unknown one is only logged at debug level.
func (d *Dispatcher) trigger(ctx context.Context, deviceID, scenarioID string) {
	if d.scenarios == nil {
		return
	}
	err := d.scenarios.TriggerScenario(ctx, deviceID, scenarioID)
	switch {
	case err == nil:
		d.logger.Info("scenario triggered", "device_id", deviceID, "scenario", scenarioID)
	case errors.Is(err, device.ErrNotFound):
		d.logger.Debug("scenario not found", "device_id", deviceID, "scenario", scenarioID)
	default:
		d.logger.Warn("failed to trigger scenario",
			"device_id", deviceID,
			"scenario", scenarioID,
			"error", err,
		)
	}
}

func (d *Dispatcher) recordEvent(ctx context.Context, ev Event) {
	if d.recorder == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}
	if err := d.recorder.RecordTemplateEvent(ctx, ev); err != nil {
		d.logger.Warn("recording template event failed",
			"device_id", ev.DeviceID,
			"event", ev.Name,
			"error", err,
		)
	}
}
