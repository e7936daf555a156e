package device

import "fmt"

// TemplateKind is the persisted tag of a template assignment.
type TemplateKind string

// Template kinds.
const (
	TemplateUID          TemplateKind = "uid_validator"
	TemplateSignalHold   TemplateKind = "signal_hold"
	TemplateFlagTrigger  TemplateKind = "flag_trigger"
	TemplateTopicTrigger TemplateKind = "mqtt_trigger"
)

// Template is a matcher configuration assigned to a device.
//
// Implementations: *UIDTemplate, *SignalTemplate, *FlagTriggerTemplate and
// *TopicTriggerTemplate.
type Template interface {
	Kind() TemplateKind

	// Validate reports whether the template can be registered.
	Validate() error

	// Clone returns an independent deep copy.
	Clone() Template
}

// UIDSlot is one identifier-validation unit of a UID template.
type UIDSlot struct {
	// SourceID is the topic the slot listens on. Empty marks an unused slot.
	SourceID string
	Label    string

	// Values lists the accepted values. Empty accepts any value.
	Values []string
}

// Accepts reports whether value satisfies the slot's allowed set.
func (s *UIDSlot) Accepts(value string) bool {
	if len(s.Values) == 0 {
		return true
	}
	for _, v := range s.Values {
		if v == value {
			return true
		}
	}
	return false
}

// UIDTemplate validates a set of identifiers arriving on separate topics.
type UIDTemplate struct {
	Slots []UIDSlot

	SuccessTopic   string
	SuccessPayload string
	FailTopic      string
	FailPayload    string

	SuccessAudioTrack string
	FailAudioTrack    string

	SuccessSignalTopic   string
	SuccessSignalPayload string
	FailSignalTopic      string
	FailSignalPayload    string
}

// PopulatedSlots returns the slots that have a source id, in order.
func (t *UIDTemplate) PopulatedSlots() []UIDSlot {
	out := make([]UIDSlot, 0, len(t.Slots))
	for _, s := range t.Slots {
		if s.SourceID != "" {
			out = append(out, s)
		}
	}
	return out
}

func (*UIDTemplate) Kind() TemplateKind { return TemplateUID }

// Validate rejects templates with no populated slot or more than the slot
// and value limits allow.
func (t *UIDTemplate) Validate() error {
	if len(t.Slots) > MaxUIDSlots {
		return fmt.Errorf("%w: uid template has %d slots (max %d)", ErrInvalidArgument, len(t.Slots), MaxUIDSlots)
	}
	populated := 0
	for i, s := range t.Slots {
		if len(s.Values) > MaxUIDValues {
			return fmt.Errorf("%w: uid slot %d has %d values (max %d)", ErrInvalidArgument, i, len(s.Values), MaxUIDValues)
		}
		if s.SourceID != "" {
			populated++
		}
	}
	if populated == 0 {
		return fmt.Errorf("%w: uid template has no populated slots", ErrInvalidArgument)
	}
	return nil
}

func (t *UIDTemplate) Clone() Template {
	cpy := *t
	if t.Slots != nil {
		cpy.Slots = make([]UIDSlot, len(t.Slots))
		for i, s := range t.Slots {
			cpy.Slots[i] = s
			if s.Values != nil {
				cpy.Slots[i].Values = append([]string(nil), s.Values...)
			}
		}
	}
	return &cpy
}

// SignalTemplate describes a heartbeat-driven hold timer.
type SignalTemplate struct {
	SignalTopic      string
	SignalPayloadOn  string
	SignalPayloadOff string
	SignalOnMS       uint32

	HeartbeatTopic     string
	RequiredHoldMS     uint32
	HeartbeatTimeoutMS uint32

	HoldTrack     string
	HoldTrackLoop bool
	CompleteTrack string
}

func (*SignalTemplate) Kind() TemplateKind { return TemplateSignalHold }

// Validate requires a heartbeat topic and a nonzero hold duration.
func (t *SignalTemplate) Validate() error {
	if t.HeartbeatTopic == "" {
		return fmt.Errorf("%w: signal template has no heartbeat topic", ErrInvalidArgument)
	}
	if t.RequiredHoldMS == 0 {
		return fmt.Errorf("%w: signal template has zero required hold", ErrInvalidArgument)
	}
	return nil
}

func (t *SignalTemplate) Clone() Template {
	cpy := *t
	return &cpy
}

// FlagRule maps a flag reaching RequiredState to a scenario.
type FlagRule struct {
	Flag          string
	RequiredState bool
	Scenario      string
}

// FlagTriggerTemplate is an ordered flag rule table.
type FlagTriggerTemplate struct {
	Rules []FlagRule
}

func (*FlagTriggerTemplate) Kind() TemplateKind { return TemplateFlagTrigger }

// Validate requires at least one rule naming both a flag and a scenario.
func (t *FlagTriggerTemplate) Validate() error {
	if len(t.Rules) > MaxTriggerRules {
		return fmt.Errorf("%w: flag trigger has %d rules (max %d)", ErrInvalidArgument, len(t.Rules), MaxTriggerRules)
	}
	for _, r := range t.Rules {
		if r.Flag != "" && r.Scenario != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: flag trigger has no usable rule", ErrInvalidArgument)
}

func (t *FlagTriggerTemplate) Clone() Template {
	return &FlagTriggerTemplate{Rules: append([]FlagRule(nil), t.Rules...)}
}

// TopicRule maps a message on Topic to a scenario.
//
// When PayloadRequired is set the payload must equal Payload exactly.
type TopicRule struct {
	Topic           string
	Payload         string
	PayloadRequired bool
	Scenario        string
}

// TopicTriggerTemplate is an ordered MQTT rule table.
type TopicTriggerTemplate struct {
	Rules []TopicRule
}

func (*TopicTriggerTemplate) Kind() TemplateKind { return TemplateTopicTrigger }

// Validate requires at least one rule naming both a topic and a scenario.
func (t *TopicTriggerTemplate) Validate() error {
	if len(t.Rules) > MaxTriggerRules {
		return fmt.Errorf("%w: mqtt trigger has %d rules (max %d)", ErrInvalidArgument, len(t.Rules), MaxTriggerRules)
	}
	for _, r := range t.Rules {
		if r.Topic != "" && r.Scenario != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: mqtt trigger has no usable rule", ErrInvalidArgument)
}

func (t *TopicTriggerTemplate) Clone() Template {
	return &TopicTriggerTemplate{Rules: append([]TopicRule(nil), t.Rules...)}
}
