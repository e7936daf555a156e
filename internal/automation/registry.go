package automation

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
	"github.com/nerrad567/gray-logic-devicecore/internal/template"
)

// Runtime table capacities, per template kind.
const (
	MaxUIDRuntimes    = 4
	MaxSignalRuntimes = 4
	MaxFlagRuntimes   = device.MaxDevices
	MaxTopicRuntimes  = device.MaxDevices
)

// Logger defines the logging interface used by the Registry and Dispatcher.
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

type uidEntry struct {
	deviceID  string
	tpl       *device.UIDTemplate
	validator *template.UIDValidator
}

type signalEntry struct {
	deviceID string
	tpl      *device.SignalTemplate
	timer    *template.SignalTimer

	// Hold track playback bookkeeping.
	holdStarted bool
	holdPaused  bool
	holdActive  bool
}

type flagEntry struct {
	deviceID string
	matcher  *template.FlagMatcher
}

type topicEntry struct {
	deviceID string
	matcher  *template.TopicMatcher
}

// Registry is the fixed-capacity table of per-device template runtimes.
//
// The table is rebuilt wholesale from the device list after every committed
// configuration change; runtime state does not survive a rebuild.
//
// All public methods are thread-safe. The Dispatcher holds the same lock
// while it drives the runtimes.
type Registry struct {
	mu     sync.Mutex
	uid    []*uidEntry
	signal []*signalEntry
	flag   []*flagEntry
	topic  []*topicEntry
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		uid:    make([]*uidEntry, 0, MaxUIDRuntimes),
		signal: make([]*signalEntry, 0, MaxSignalRuntimes),
		flag:   make([]*flagEntry, 0, MaxFlagRuntimes),
		topic:  make([]*topicEntry, 0, MaxTopicRuntimes),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register allocates a runtime for tpl bound to deviceID.
//
// Returns an error wrapping device.ErrInvalidArgument when the template is
// structurally invalid and device.ErrNoMemory when the table for its kind
// is full.
func (r *Registry) Register(tpl device.Template, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(tpl, deviceID)
}

func (r *Registry) registerLocked(tpl device.Template, deviceID string) error {
	if tpl == nil || deviceID == "" {
		return fmt.Errorf("%w: template and device id are required", device.ErrInvalidArgument)
	}

	switch t := tpl.(type) {
	case *device.UIDTemplate:
		if len(r.uid) >= MaxUIDRuntimes {
			return fmt.Errorf("%w: uid runtime table full (%d)", device.ErrNoMemory, MaxUIDRuntimes)
		}
		v, err := template.NewUIDValidator(t)
		if err != nil {
			return err
		}
		own, _ := t.Clone().(*device.UIDTemplate)
		r.uid = append(r.uid, &uidEntry{deviceID: deviceID, tpl: own, validator: v})
		r.logger.Info("registered uid runtime", "device_id", deviceID, "slots", len(own.PopulatedSlots()))

	case *device.SignalTemplate:
		if len(r.signal) >= MaxSignalRuntimes {
			return fmt.Errorf("%w: signal runtime table full (%d)", device.ErrNoMemory, MaxSignalRuntimes)
		}
		timer, err := template.NewSignalTimer(t)
		if err != nil {
			return err
		}
		own, _ := t.Clone().(*device.SignalTemplate)
		r.signal = append(r.signal, &signalEntry{deviceID: deviceID, tpl: own, timer: timer})
		r.logger.Info("registered signal runtime", "device_id", deviceID, "topic", own.HeartbeatTopic)

	case *device.FlagTriggerTemplate:
		if len(r.flag) >= MaxFlagRuntimes {
			return fmt.Errorf("%w: flag runtime table full (%d)", device.ErrNoMemory, MaxFlagRuntimes)
		}
		m, err := template.NewFlagMatcher(t)
		if err != nil {
			return err
		}
		r.flag = append(r.flag, &flagEntry{deviceID: deviceID, matcher: m})
		r.logger.Info("registered flag runtime", "device_id", deviceID, "rules", len(t.Rules))

	case *device.TopicTriggerTemplate:
		if len(r.topic) >= MaxTopicRuntimes {
			return fmt.Errorf("%w: mqtt trigger runtime table full (%d)", device.ErrNoMemory, MaxTopicRuntimes)
		}
		m, err := template.NewTopicMatcher(t)
		if err != nil {
			return err
		}
		r.topic = append(r.topic, &topicEntry{deviceID: deviceID, matcher: m})
		r.logger.Info("registered mqtt trigger runtime", "device_id", deviceID, "rules", len(t.Rules))

	default:
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, tpl.Kind())
	}
	return nil
}

// Reset clears every runtime table.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Registry) resetLocked() {
	clear(r.uid)
	clear(r.signal)
	clear(r.flag)
	clear(r.topic)
	r.uid = r.uid[:0]
	r.signal = r.signal[:0]
	r.flag = r.flag[:0]
	r.topic = r.topic[:0]
}

// Rebuild resets the registry and registers the template of every device
// that has one. Templates that cannot be registered are logged and skipped.
func (r *Registry) Rebuild(devices []device.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()
	skipped := 0
	for i := range devices {
		d := &devices[i]
		if d.Template == nil {
			continue
		}
		if err := r.registerLocked(d.Template, d.ID); err != nil {
			skipped++
			level := r.logger.Warn
			if errors.Is(err, device.ErrNoMemory) {
				level = r.logger.Error
			}
			level("template not registered",
				"device_id", d.ID,
				"kind", d.Template.Kind(),
				"error", err,
			)
		}
	}

	r.logger.Info("template registry rebuilt",
		"uid", len(r.uid),
		"signal", len(r.signal),
		"flag", len(r.flag),
		"mqtt", len(r.topic),
		"skipped", skipped,
	)
}

// UIDSnapshot describes a device's UID runtime: every populated slot with
// its last accepted value.
type UIDSnapshot struct {
	DeviceID  string
	Slots     []template.SlotSnapshot
	Satisfied int
	Failed    bool
}

// UIDSnapshot returns the UID runtime state for deviceID, or an error
// wrapping device.ErrNotFound when the device has no UID runtime.
func (r *Registry) UIDSnapshot(deviceID string) (UIDSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.uid {
		if e.deviceID != deviceID {
			continue
		}
		return UIDSnapshot{
			DeviceID:  e.deviceID,
			Slots:     e.validator.Snapshot(),
			Satisfied: e.validator.SatisfiedCount(),
			Failed:    e.validator.Failed(),
		}, nil
	}
	return UIDSnapshot{}, fmt.Errorf("%w: no uid runtime for device %s", device.ErrNotFound, deviceID)
}

// Topics returns the distinct MQTT topics the registered runtimes listen
// on, sorted.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var topics []string
	for _, e := range r.uid {
		topics = append(topics, e.validator.Sources()...)
	}
	for _, e := range r.signal {
		topics = append(topics, e.tpl.HeartbeatTopic)
	}
	for _, e := range r.topic {
		topics = append(topics, e.matcher.Topics()...)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Counts returns the number of registered runtimes per template kind.
func (r *Registry) Counts() map[device.TemplateKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[device.TemplateKind]int{
		device.TemplateUID:          len(r.uid),
		device.TemplateSignalHold:   len(r.signal),
		device.TemplateFlagTrigger:  len(r.flag),
		device.TemplateTopicTrigger: len(r.topic),
	}
}
