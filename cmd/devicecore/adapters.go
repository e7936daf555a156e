package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/automation"
	"github.com/nerrad567/gray-logic-devicecore/internal/device"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/mqtt"
)

// messageClient is the part of *mqtt.Client the adapters need.
type messageClient interface {
	PublishDefault(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
}

// messageDispatcher is the part of *automation.Dispatcher the MQTT handlers
// feed.
type messageDispatcher interface {
	HandleMessage(ctx context.Context, topic, payload string) bool
	HandleTopicRule(ctx context.Context, topic, payload string) bool
	HandleFlag(ctx context.Context, name string, state bool) bool
}

// =============================================================================
// Outbound Adapters
// =============================================================================

// mqttPublisher adapts the MQTT client to automation.Publisher.
type mqttPublisher struct {
	client messageClient
}

func (p *mqttPublisher) Publish(ctx context.Context, topic, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.client.PublishDefault(topic, []byte(payload))
}

// audioCommand is the message the audio player consumes.
type audioCommand struct {
	Command string `json:"command"`
	Track   string `json:"track,omitempty"`
	Loop    bool   `json:"loop,omitempty"`
}

// mqttAudio drives the external audio player over MQTT.
type mqttAudio struct {
	client messageClient
	topic  string
}

func (a *mqttAudio) Play(ctx context.Context, track string, loop bool) error {
	return a.send(ctx, audioCommand{Command: "play", Track: track, Loop: loop})
}

func (a *mqttAudio) Pause(ctx context.Context) error {
	return a.send(ctx, audioCommand{Command: "pause"})
}

func (a *mqttAudio) Resume(ctx context.Context) error {
	return a.send(ctx, audioCommand{Command: "resume"})
}

func (a *mqttAudio) Stop(ctx context.Context) error {
	return a.send(ctx, audioCommand{Command: "stop"})
}

func (a *mqttAudio) send(ctx context.Context, cmd audioCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding audio command: %w", err)
	}
	return a.client.PublishDefault(a.topic, data)
}

// =============================================================================
// Template Event Recorders
// =============================================================================

// multiRecorder hands every event to each recorder in turn.
type multiRecorder []automation.Recorder

func (m multiRecorder) RecordTemplateEvent(ctx context.Context, ev automation.Event) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordTemplateEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// templateEventWriter is satisfied by *influxdb.Client.
type templateEventWriter interface {
	WriteTemplateEvent(ev influxdb.TemplateEvent)
}

// influxRecorder writes template events as time-series points.
type influxRecorder struct {
	writer templateEventWriter
}

func (r *influxRecorder) RecordTemplateEvent(_ context.Context, ev automation.Event) error {
	r.writer.WriteTemplateEvent(influxdb.TemplateEvent{
		DeviceID:      ev.DeviceID,
		Kind:          string(ev.Kind),
		Event:         ev.Name,
		Topic:         ev.Topic,
		Scenario:      ev.Scenario,
		AccumulatedMS: ev.AccumulatedMS,
		At:            ev.At,
	})
	return nil
}

// templateEventMessage is published on <prefix>/device/<id>/event.
type templateEventMessage struct {
	DeviceID      string `json:"device_id"`
	Kind          string `json:"kind"`
	Event         string `json:"event"`
	Topic         string `json:"topic,omitempty"`
	Payload       string `json:"payload,omitempty"`
	Scenario      string `json:"scenario,omitempty"`
	AccumulatedMS uint32 `json:"accumulated_ms,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// mqttEventRecorder announces template events to other services.
type mqttEventRecorder struct {
	client messageClient
	topics mqtt.Topics
}

func (r *mqttEventRecorder) RecordTemplateEvent(ctx context.Context, ev automation.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	data, err := json.Marshal(templateEventMessage{
		DeviceID:      ev.DeviceID,
		Kind:          string(ev.Kind),
		Event:         ev.Name,
		Topic:         ev.Topic,
		Payload:       ev.Payload,
		Scenario:      ev.Scenario,
		AccumulatedMS: ev.AccumulatedMS,
		Timestamp:     at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encoding template event: %w", err)
	}
	return r.client.PublishDefault(r.topics.TemplateEvent(ev.DeviceID), data)
}

// =============================================================================
// Subscriptions
// =============================================================================

// topicSource lists the topics the template runtimes listen on.
type topicSource interface {
	Topics() []string
}

// subscriptionRouter keeps the broker subscriptions in line with the
// topics the registered templates need.
type subscriptionRouter struct {
	client  messageClient
	source  topicSource
	handler mqtt.MessageHandler
	log     *logging.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func newSubscriptionRouter(client messageClient, source topicSource, handler mqtt.MessageHandler, log *logging.Logger) *subscriptionRouter {
	return &subscriptionRouter{
		client:  client,
		source:  source,
		handler: handler,
		log:     log,
		active:  make(map[string]struct{}),
	}
}

// Sync subscribes to new template topics and drops stale ones. Failed
// topics are left for the next Sync.
func (r *subscriptionRouter) Sync() error {
	want := make(map[string]struct{})
	for _, topic := range r.source.Topics() {
		want[topic] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for topic := range want {
		if _, ok := r.active[topic]; ok {
			continue
		}
		if err := r.client.Subscribe(topic, r.client.QoS(), r.handler); err != nil {
			errs = append(errs, fmt.Errorf("subscribing %s: %w", topic, err))
			continue
		}
		r.active[topic] = struct{}{}
	}
	for topic := range r.active {
		if _, ok := want[topic]; ok {
			continue
		}
		if err := r.client.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing %s: %w", topic, err))
			continue
		}
		delete(r.active, topic)
	}

	r.log.Debug("template subscriptions synced", "topics", len(r.active))
	return errors.Join(errs...)
}

// Active returns the subscribed template topics in sorted order.
func (r *subscriptionRouter) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.active))
	for topic := range r.active {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// dispatchHandler feeds template topics to the UID and signal runtimes and
// the topic rule matchers.
func dispatchHandler(ctx context.Context, d messageDispatcher) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		p := string(payload)
		d.HandleMessage(ctx, topic, p)
		d.HandleTopicRule(ctx, topic, p)
		return nil
	}
}

// flagHandler turns <prefix>/flag/<name> messages into flag changes.
func flagHandler(ctx context.Context, topics mqtt.Topics, d messageDispatcher) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		name, ok := topics.FlagName(topic)
		if !ok {
			return fmt.Errorf("not a flag topic: %s", topic)
		}
		state, ok := parseFlagState(payload)
		if !ok {
			return fmt.Errorf("flag %s: unrecognised state %q", name, payload)
		}
		d.HandleFlag(ctx, name, state)
		return nil
	}
}

// parseFlagState accepts the usual boolean spellings.
func parseFlagState(payload []byte) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on", "set":
		return true, true
	case "0", "false", "off", "clear":
		return false, true
	default:
		return false, false
	}
}

// =============================================================================
// Configuration Control
// =============================================================================

// configController is the part of *store.Store driven over MQTT.
type configController interface {
	ApplyJSON(ctx context.Context, profileID string, data []byte) error
	ActivateProfile(ctx context.Context, id string) error
	Reload(ctx context.Context) error
	Export(ctx context.Context, profileID string) ([]byte, error)
	CreateProfile(ctx context.Context, id, name, cloneFrom string) error
	DeleteProfile(ctx context.Context, id string) error
	RenameProfile(ctx context.Context, id, newName string) error
}

// configApplyHandler applies a configuration document published on
// <prefix>/config/apply.
func configApplyHandler(ctx context.Context, ctl configController) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		if err := ctl.ApplyJSON(ctx, "", payload); err != nil {
			return fmt.Errorf("applying configuration: %w", err)
		}
		return nil
	}
}

// profileActivateHandler switches the active profile.
func profileActivateHandler(ctx context.Context, ctl configController) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		id := strings.TrimSpace(string(payload))
		if err := ctl.ActivateProfile(ctx, id); err != nil {
			return fmt.Errorf("activating profile %q: %w", id, err)
		}
		return nil
	}
}

// configReloadHandler re-reads the stored configuration. The payload is
// ignored.
func configReloadHandler(ctx context.Context, ctl configController) mqtt.MessageHandler {
	return func(_ string, _ []byte) error {
		if err := ctl.Reload(ctx); err != nil {
			return fmt.Errorf("reloading configuration: %w", err)
		}
		return nil
	}
}

// configExportHandler publishes the persisted form of the configuration on
// reply. A non-empty payload names the profile to export.
func configExportHandler(ctx context.Context, ctl configController, client messageClient, reply string) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		id := strings.TrimSpace(string(payload))
		data, err := ctl.Export(ctx, id)
		if err != nil {
			return fmt.Errorf("exporting configuration: %w", err)
		}
		return client.PublishDefault(reply, data)
	}
}

// profileCreateRequest is the payload on <prefix>/profile/create.
type profileCreateRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CloneFrom string `json:"clone_from,omitempty"`
}

// profileRenameRequest is the payload on <prefix>/profile/rename.
type profileRenameRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// profileCreateHandler adds a profile and makes it active.
func profileCreateHandler(ctx context.Context, ctl configController) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		var req profileCreateRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: profile create request: %w", device.ErrInvalidArgument, err)
		}
		if err := ctl.CreateProfile(ctx, req.ID, req.Name, req.CloneFrom); err != nil {
			return fmt.Errorf("creating profile %q: %w", req.ID, err)
		}
		return nil
	}
}

// profileDeleteHandler removes the profile named by the payload.
func profileDeleteHandler(ctx context.Context, ctl configController) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		id := strings.TrimSpace(string(payload))
		if err := ctl.DeleteProfile(ctx, id); err != nil {
			return fmt.Errorf("deleting profile %q: %w", id, err)
		}
		return nil
	}
}

// profileRenameHandler changes a profile's display name.
func profileRenameHandler(ctx context.Context, ctl configController) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		var req profileRenameRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: profile rename request: %w", device.ErrInvalidArgument, err)
		}
		if err := ctl.RenameProfile(ctx, req.ID, req.Name); err != nil {
			return fmt.Errorf("renaming profile %q: %w", req.ID, err)
		}
		return nil
	}
}

// controlSubscription binds a control topic to its handler.
type controlSubscription struct {
	name    string
	topic   string
	handler mqtt.MessageHandler
}

// controlSubscriptions lists every topic that drives the store.
func controlSubscriptions(ctx context.Context, topics mqtt.Topics, ctl configController, client messageClient) []controlSubscription {
	return []controlSubscription{
		{name: "config apply", topic: topics.ConfigApply(), handler: configApplyHandler(ctx, ctl)},
		{name: "config reload", topic: topics.ConfigReload(), handler: configReloadHandler(ctx, ctl)},
		{name: "config export", topic: topics.ConfigExport(), handler: configExportHandler(ctx, ctl, client, topics.ConfigExported())},
		{name: "profile activation", topic: topics.ProfileActivate(), handler: profileActivateHandler(ctx, ctl)},
		{name: "profile create", topic: topics.ProfileCreate(), handler: profileCreateHandler(ctx, ctl)},
		{name: "profile delete", topic: topics.ProfileDelete(), handler: profileDeleteHandler(ctx, ctl)},
		{name: "profile rename", topic: topics.ProfileRename(), handler: profileRenameHandler(ctx, ctl)},
	}
}

// subscribeControls subscribes every control topic, stopping at the first
// refusal.
func subscribeControls(client messageClient, subs []controlSubscription) error {
	for _, sub := range subs {
		if err := client.Subscribe(sub.topic, client.QoS(), sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.name, err)
		}
	}
	return nil
}

// commitWriter is satisfied by *influxdb.Client.
type commitWriter interface {
	WriteConfigCommit(generation uint32, profile string, devices int)
}

// configChangedMessage is the retained message on <prefix>/config/changed.
type configChangedMessage struct {
	Generation    uint32 `json:"generation"`
	ActiveProfile string `json:"active_profile"`
	Devices       int    `json:"devices"`
	Profiles      int    `json:"profiles"`
	Timestamp     string `json:"timestamp"`
}

// changeNotifier reacts to committed configurations: it announces the new
// generation, records it and resubscribes template topics.
type changeNotifier struct {
	client  messageClient
	topics  mqtt.Topics
	commits commitWriter
	router  *subscriptionRouter
	log     *logging.Logger
}

func (n *changeNotifier) ConfigChanged(_ context.Context, cfg *device.Config) {
	if n.router != nil {
		if err := n.router.Sync(); err != nil {
			n.log.Warn("template subscriptions incomplete", "error", err)
		}
	}

	if n.commits != nil {
		n.commits.WriteConfigCommit(cfg.Generation, cfg.ActiveProfile, len(cfg.Devices))
	}

	data, err := json.Marshal(configChangedMessage{
		Generation:    cfg.Generation,
		ActiveProfile: cfg.ActiveProfile,
		Devices:       len(cfg.Devices),
		Profiles:      len(cfg.Profiles),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.log.Error("encoding config change", "error", err)
		return
	}
	if err := n.client.PublishRetained(n.topics.ConfigChanged(), data); err != nil {
		n.log.Warn("publishing config change failed",
			"generation", cfg.Generation,
			"error", err,
		)
	}
}
