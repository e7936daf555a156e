package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Wire representation of the configuration document.
//
// The domain types carry no struct tags; these mirror structs own the
// persisted field names so the sum types can be mapped explicitly.
type (
	configJSON struct {
		Schema        int           `json:"schema"`
		Generation    uint32        `json:"generation"`
		TabLimit      int           `json:"tab_limit"`
		ActiveProfile string        `json:"active_profile"`
		Profiles      []profileJSON `json:"profiles"`
		Devices       []deviceJSON  `json:"devices"`
	}

	profileJSON struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DeviceCount int    `json:"device_count"`
		Active      bool   `json:"active,omitempty"`
	}

	profileFileJSON struct {
		ID      string       `json:"id"`
		Devices []deviceJSON `json:"devices"`
	}

	deviceJSON struct {
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Tabs      []tabJSON      `json:"tabs"`
		Topics    []topicJSON    `json:"topics"`
		Scenarios []scenarioJSON `json:"scenarios"`
		Template  *templateJSON  `json:"template,omitempty"`
	}

	tabJSON struct {
		Type  TabType `json:"type"`
		Label string  `json:"label"`
		Extra string  `json:"extra,omitempty"`
	}

	topicJSON struct {
		Name  string `json:"name"`
		Topic string `json:"topic"`
	}

	scenarioJSON struct {
		ID    string     `json:"id"`
		Name  string     `json:"name"`
		Steps []stepJSON `json:"steps"`
	}

	stepJSON struct {
		Type     StepType  `json:"type"`
		DelayMS  uint32    `json:"delay_ms,omitempty"`
		Topic    string    `json:"topic,omitempty"`
		Payload  string    `json:"payload,omitempty"`
		QoS      *uint8    `json:"qos,omitempty"`
		Retain   *bool     `json:"retain,omitempty"`
		Track    string    `json:"track,omitempty"`
		Blocking *bool     `json:"blocking,omitempty"`
		Flag     string    `json:"flag,omitempty"`
		Value    *bool     `json:"value,omitempty"`
		Wait     *waitJSON `json:"wait,omitempty"`
		Loop     *loopJSON `json:"loop,omitempty"`
		Event    string    `json:"event,omitempty"`
	}

	waitJSON struct {
		Mode         WaitMode          `json:"mode"`
		TimeoutMS    uint32            `json:"timeout_ms"`
		Requirements []requirementJSON `json:"requirements"`
	}

	requirementJSON struct {
		Flag  string `json:"flag"`
		State *bool  `json:"state,omitempty"`
	}

	loopJSON struct {
		TargetStep    int `json:"target_step"`
		MaxIterations int `json:"max_iterations"`
	}

	templateJSON struct {
		Type        TemplateKind     `json:"type"`
		UID         *uidJSON         `json:"uid,omitempty"`
		Signal      *signalJSON      `json:"signal,omitempty"`
		FlagTrigger *flagTriggerJSON `json:"flag_trigger,omitempty"`
		MQTTTrigger *mqttTriggerJSON `json:"mqtt_trigger,omitempty"`
	}

	uidSlotJSON struct {
		SourceID string   `json:"source_id"`
		Label    string   `json:"label"`
		Values   []string `json:"values"`
	}

	uidJSON struct {
		Slots                []uidSlotJSON `json:"slots"`
		SuccessTopic         string        `json:"success_topic,omitempty"`
		SuccessPayload       string        `json:"success_payload,omitempty"`
		FailTopic            string        `json:"fail_topic,omitempty"`
		FailPayload          string        `json:"fail_payload,omitempty"`
		SuccessAudioTrack    string        `json:"success_audio_track,omitempty"`
		FailAudioTrack       string        `json:"fail_audio_track,omitempty"`
		SuccessSignalTopic   string        `json:"success_signal_topic,omitempty"`
		SuccessSignalPayload string        `json:"success_signal_payload,omitempty"`
		FailSignalTopic      string        `json:"fail_signal_topic,omitempty"`
		FailSignalPayload    string        `json:"fail_signal_payload,omitempty"`
	}

	signalJSON struct {
		SignalTopic        string `json:"signal_topic,omitempty"`
		SignalPayloadOn    string `json:"signal_payload_on,omitempty"`
		SignalPayloadOff   string `json:"signal_payload_off,omitempty"`
		SignalOnMS         uint32 `json:"signal_on_ms,omitempty"`
		HeartbeatTopic     string `json:"heartbeat_topic"`
		RequiredHoldMS     uint32 `json:"required_hold_ms"`
		HeartbeatTimeoutMS uint32 `json:"heartbeat_timeout_ms"`
		HoldTrack          string `json:"hold_track,omitempty"`
		HoldTrackLoop      bool   `json:"hold_track_loop,omitempty"`
		CompleteTrack      string `json:"complete_track,omitempty"`
	}

	flagRuleJSON struct {
		Flag     string `json:"flag"`
		State    *bool  `json:"state,omitempty"`
		Scenario string `json:"scenario"`
	}

	flagTriggerJSON struct {
		Rules []flagRuleJSON `json:"rules"`
	}

	mqttRuleJSON struct {
		Topic           string `json:"topic"`
		Payload         string `json:"payload,omitempty"`
		PayloadRequired bool   `json:"payload_required,omitempty"`
		Scenario        string `json:"scenario"`
	}

	mqttTriggerJSON struct {
		Rules []mqttRuleJSON `json:"rules"`
	}
)

// WriteConfig serialises c to w in the persisted layout.
func WriteConfig(w io.Writer, c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil configuration", ErrInvalidArgument)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(configToJSON(c)); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return nil
}

// EncodeConfig returns the persisted form of c.
func EncodeConfig(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteConfig(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeConfig parses a persisted configuration document.
//
// Unknown step kinds and template kinds are skipped. The result is not
// normalised or validated; callers decide whether to clamp or reject.
//
// Returns an error wrapping ErrInvalidArgument for empty or malformed input.
func DecodeConfig(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty configuration document", ErrInvalidArgument)
	}
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing configuration: %w", ErrInvalidArgument, err)
	}
	return configFromJSON(&raw), nil
}

// WriteProfileDevices serialises a profile's stored device list.
func WriteProfileDevices(w io.Writer, profileID string, devices []Device) error {
	doc := profileFileJSON{ID: profileID, Devices: devicesToJSON(devices)}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding profile %s: %w", profileID, err)
	}
	return nil
}

// DecodeProfileDevices parses a document written by WriteProfileDevices.
func DecodeProfileDevices(data []byte) ([]Device, error) {
	var raw profileFileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing profile: %w", ErrInvalidArgument, err)
	}
	return devicesFromJSON(raw.Devices), nil
}

// MarshalSteps encodes a step script in its persisted layout.
func MarshalSteps(steps []Step) ([]byte, error) {
	raw := make([]stepJSON, 0, len(steps))
	for _, st := range steps {
		raw = append(raw, stepToJSON(st))
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding steps: %w", err)
	}
	return data, nil
}

// MarshalJSON encodes the configuration in its persisted layout.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configToJSON(&c))
}

// UnmarshalJSON decodes the persisted layout.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = *configFromJSON(&raw)
	return nil
}

// MarshalJSON encodes a single device in its persisted layout.
func (d Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceToJSON(&d))
}

// UnmarshalJSON decodes a single device.
func (d *Device) UnmarshalJSON(data []byte) error {
	var raw deviceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = deviceFromJSON(&raw)
	return nil
}

func configToJSON(c *Config) configJSON {
	out := configJSON{
		Schema:        c.SchemaVersion,
		Generation:    c.Generation,
		TabLimit:      c.TabLimit,
		ActiveProfile: c.ActiveProfile,
		Profiles:      make([]profileJSON, 0, len(c.Profiles)),
		Devices:       devicesToJSON(c.Devices),
	}
	for _, p := range c.Profiles {
		out.Profiles = append(out.Profiles, profileJSON{
			ID:          p.ID,
			Name:        p.Name,
			DeviceCount: p.DeviceCount,
			Active:      c.IsActive(p.ID),
		})
	}
	return out
}

func configFromJSON(raw *configJSON) *Config {
	c := &Config{
		SchemaVersion: raw.Schema,
		Generation:    raw.Generation,
		TabLimit:      raw.TabLimit,
		ActiveProfile: raw.ActiveProfile,
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SchemaVersion
	}
	for _, p := range raw.Profiles {
		if p.ID == "" {
			continue
		}
		if existing := c.Profile(p.ID); existing != nil {
			existing.Name = p.Name
			existing.DeviceCount = p.DeviceCount
			continue
		}
		c.Profiles = append(c.Profiles, Profile{ID: p.ID, Name: p.Name, DeviceCount: p.DeviceCount})
		if c.ActiveProfile == "" && p.Active {
			c.ActiveProfile = p.ID
		}
	}
	c.Devices = devicesFromJSON(raw.Devices)
	return c
}

func devicesToJSON(devices []Device) []deviceJSON {
	out := make([]deviceJSON, 0, len(devices))
	for i := range devices {
		out = append(out, deviceToJSON(&devices[i]))
	}
	return out
}

func devicesFromJSON(raw []deviceJSON) []Device {
	if raw == nil {
		return nil
	}
	out := make([]Device, 0, len(raw))
	for i := range raw {
		if raw[i].ID == "" {
			continue
		}
		out = append(out, deviceFromJSON(&raw[i]))
	}
	return out
}

func deviceToJSON(d *Device) deviceJSON {
	out := deviceJSON{
		ID:        d.ID,
		Name:      d.Name,
		Tabs:      make([]tabJSON, 0, len(d.Tabs)),
		Topics:    make([]topicJSON, 0, len(d.Topics)),
		Scenarios: make([]scenarioJSON, 0, len(d.Scenarios)),
		Template:  templateToJSON(d.Template),
	}
	for _, t := range d.Tabs {
		out.Tabs = append(out.Tabs, tabJSON(t))
	}
	for _, t := range d.Topics {
		out.Topics = append(out.Topics, topicJSON(t))
	}
	for _, sc := range d.Scenarios {
		steps := make([]stepJSON, 0, len(sc.Steps))
		for _, st := range sc.Steps {
			steps = append(steps, stepToJSON(st))
		}
		out.Scenarios = append(out.Scenarios, scenarioJSON{ID: sc.ID, Name: sc.Name, Steps: steps})
	}
	return out
}

func deviceFromJSON(raw *deviceJSON) Device {
	d := Device{ID: raw.ID, Name: raw.Name}
	for _, t := range raw.Tabs {
		if t.Type != TabAudio {
			t.Type = TabCustom
		}
		d.Tabs = append(d.Tabs, Tab(t))
	}
	for _, t := range raw.Topics {
		d.Topics = append(d.Topics, TopicBinding(t))
	}
	for _, sc := range raw.Scenarios {
		scenario := Scenario{ID: sc.ID, Name: sc.Name}
		for i := range sc.Steps {
			if st, ok := stepFromJSON(&sc.Steps[i]); ok {
				scenario.Steps = append(scenario.Steps, st)
			}
		}
		d.Scenarios = append(d.Scenarios, scenario)
	}
	d.Template = decodeTemplate(raw.Template)
	return d
}

func stepToJSON(st Step) stepJSON {
	out := stepJSON{Type: st.Type(), DelayMS: st.DelayMS}
	switch a := st.Action.(type) {
	case Publish:
		out.Topic, out.Payload = a.Topic, a.Payload
		out.QoS, out.Retain = &a.QoS, &a.Retain
	case PlayAudio:
		out.Track, out.Blocking = a.Track, &a.Blocking
	case SetFlag:
		out.Flag, out.Value = a.Flag, &a.Value
	case WaitFlags:
		w := &waitJSON{Mode: a.Mode, TimeoutMS: a.TimeoutMS, Requirements: make([]requirementJSON, 0, len(a.Requirements))}
		for _, r := range a.Requirements {
			state := r.State
			w.Requirements = append(w.Requirements, requirementJSON{Flag: r.Flag, State: &state})
		}
		out.Wait = w
	case Loop:
		out.Loop = &loopJSON{TargetStep: a.TargetStep, MaxIterations: a.MaxIterations}
	case Event:
		out.Event, out.Topic, out.Payload = a.Event, a.Topic, a.Payload
	}
	return out
}

// stepFromJSON returns false for step kinds it does not know.
func stepFromJSON(raw *stepJSON) (Step, bool) {
	st := Step{DelayMS: raw.DelayMS}
	switch raw.Type {
	case StepNop, "":
		st.Action = Nop{}
	case StepMQTTPublish:
		st.Action = Publish{
			Topic:   raw.Topic,
			Payload: raw.Payload,
			QoS:     derefUint8(raw.QoS),
			Retain:  derefBool(raw.Retain, false),
		}
	case StepAudioPlay:
		st.Action = PlayAudio{Track: raw.Track, Blocking: derefBool(raw.Blocking, false)}
	case StepAudioStop:
		st.Action = StopAudio{}
	case StepSetFlag:
		st.Action = SetFlag{Flag: raw.Flag, Value: derefBool(raw.Value, true)}
	case StepWaitFlags:
		w := WaitFlags{Mode: WaitAll}
		if raw.Wait != nil {
			if raw.Wait.Mode == WaitAny {
				w.Mode = WaitAny
			}
			w.TimeoutMS = raw.Wait.TimeoutMS
			for _, r := range raw.Wait.Requirements {
				if r.Flag == "" {
					continue
				}
				if len(w.Requirements) >= MaxWaitRequirements {
					break
				}
				w.Requirements = append(w.Requirements, FlagRequirement{Flag: r.Flag, State: derefBool(r.State, true)})
			}
		}
		st.Action = w
	case StepLoop:
		l := Loop{}
		if raw.Loop != nil {
			l = Loop{TargetStep: raw.Loop.TargetStep, MaxIterations: raw.Loop.MaxIterations}
		}
		st.Action = l
	case StepDelay:
		st.Action = Delay{}
	case StepEvent:
		st.Action = Event{Event: raw.Event, Topic: raw.Topic, Payload: raw.Payload}
	default:
		return Step{}, false
	}
	return st, true
}

func templateToJSON(t Template) *templateJSON {
	switch tpl := t.(type) {
	case *UIDTemplate:
		u := &uidJSON{
			Slots:                make([]uidSlotJSON, 0, len(tpl.Slots)),
			SuccessTopic:         tpl.SuccessTopic,
			SuccessPayload:       tpl.SuccessPayload,
			FailTopic:            tpl.FailTopic,
			FailPayload:          tpl.FailPayload,
			SuccessAudioTrack:    tpl.SuccessAudioTrack,
			FailAudioTrack:       tpl.FailAudioTrack,
			SuccessSignalTopic:   tpl.SuccessSignalTopic,
			SuccessSignalPayload: tpl.SuccessSignalPayload,
			FailSignalTopic:      tpl.FailSignalTopic,
			FailSignalPayload:    tpl.FailSignalPayload,
		}
		for _, s := range tpl.Slots {
			values := s.Values
			if values == nil {
				values = []string{}
			}
			u.Slots = append(u.Slots, uidSlotJSON{SourceID: s.SourceID, Label: s.Label, Values: values})
		}
		return &templateJSON{Type: TemplateUID, UID: u}
	case *SignalTemplate:
		s := signalJSON(*tpl)
		return &templateJSON{Type: TemplateSignalHold, Signal: &s}
	case *FlagTriggerTemplate:
		f := &flagTriggerJSON{Rules: make([]flagRuleJSON, 0, len(tpl.Rules))}
		for _, r := range tpl.Rules {
			state := r.RequiredState
			f.Rules = append(f.Rules, flagRuleJSON{Flag: r.Flag, State: &state, Scenario: r.Scenario})
		}
		return &templateJSON{Type: TemplateFlagTrigger, FlagTrigger: f}
	case *TopicTriggerTemplate:
		m := &mqttTriggerJSON{Rules: make([]mqttRuleJSON, 0, len(tpl.Rules))}
		for _, r := range tpl.Rules {
			m.Rules = append(m.Rules, mqttRuleJSON(r))
		}
		return &templateJSON{Type: TemplateTopicTrigger, MQTTTrigger: m}
	default:
		return nil
	}
}

// decodeTemplate returns nil for absent, unknown or invalid templates. A
// device whose template fails Validate is kept without one.
func decodeTemplate(raw *templateJSON) Template {
	tpl := templateFromJSON(raw)
	if tpl == nil || tpl.Validate() != nil {
		return nil
	}
	return tpl
}

func templateFromJSON(raw *templateJSON) Template {
	if raw == nil {
		return nil
	}
	switch raw.Type {
	case TemplateUID:
		if raw.UID == nil {
			return nil
		}
		u := raw.UID
		tpl := &UIDTemplate{
			SuccessTopic:         u.SuccessTopic,
			SuccessPayload:       u.SuccessPayload,
			FailTopic:            u.FailTopic,
			FailPayload:          u.FailPayload,
			SuccessAudioTrack:    u.SuccessAudioTrack,
			FailAudioTrack:       u.FailAudioTrack,
			SuccessSignalTopic:   u.SuccessSignalTopic,
			SuccessSignalPayload: u.SuccessSignalPayload,
			FailSignalTopic:      u.FailSignalTopic,
			FailSignalPayload:    u.FailSignalPayload,
		}
		for _, s := range u.Slots {
			if len(tpl.Slots) >= MaxUIDSlots {
				break
			}
			slot := UIDSlot{SourceID: s.SourceID, Label: s.Label}
			for _, v := range s.Values {
				if v == "" || len(slot.Values) >= MaxUIDValues {
					continue
				}
				slot.Values = append(slot.Values, v)
			}
			tpl.Slots = append(tpl.Slots, slot)
		}
		return tpl
	case TemplateSignalHold:
		if raw.Signal == nil {
			return nil
		}
		tpl := SignalTemplate(*raw.Signal)
		return &tpl
	case TemplateFlagTrigger:
		if raw.FlagTrigger == nil {
			return nil
		}
		tpl := &FlagTriggerTemplate{}
		for _, r := range raw.FlagTrigger.Rules {
			if len(tpl.Rules) >= MaxTriggerRules {
				break
			}
			tpl.Rules = append(tpl.Rules, FlagRule{Flag: r.Flag, RequiredState: derefBool(r.State, true), Scenario: r.Scenario})
		}
		return tpl
	case TemplateTopicTrigger:
		if raw.MQTTTrigger == nil {
			return nil
		}
		tpl := &TopicTriggerTemplate{}
		for _, r := range raw.MQTTTrigger.Rules {
			if len(tpl.Rules) >= MaxTriggerRules {
				break
			}
			tpl.Rules = append(tpl.Rules, TopicRule(r))
		}
		return tpl
	default:
		return nil
	}
}

func derefBool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func derefUint8(v *uint8) uint8 {
	if v == nil {
		return 0
	}
	return *v
}
