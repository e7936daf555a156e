package template

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-devicecore/internal/device"
)

type flagObservation struct {
	valid bool
	state bool
}

// FlagMatcher fires scenarios on flag state changes.
//
// Each rule remembers the last state it observed for its flag. A rule fires
// when the new state equals its required state and differs from the last
// observation (or nothing was observed yet).
type FlagMatcher struct {
	rules []device.FlagRule
	last  []flagObservation
}

// NewFlagMatcher builds a matcher from tpl.
func NewFlagMatcher(tpl *device.FlagTriggerTemplate) (*FlagMatcher, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: nil flag trigger template", device.ErrInvalidArgument)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	rules := append([]device.FlagRule(nil), tpl.Rules...)
	return &FlagMatcher{rules: rules, last: make([]flagObservation, len(rules))}, nil
}

// Handle observes flag name at state and returns the first rule that fires.
//
// Flag names compare case-insensitively. Every same-name rule visited before
// the firing one has its observation updated; rules after it do not.
func (m *FlagMatcher) Handle(name string, state bool) (device.FlagRule, bool) {
	if name == "" {
		return device.FlagRule{}, false
	}
	for i, r := range m.rules {
		if r.Flag == "" || r.Scenario == "" {
			continue
		}
		if !strings.EqualFold(r.Flag, name) {
			continue
		}
		obs := &m.last[i]
		changed := !obs.valid || obs.state != state
		obs.valid = true
		obs.state = state
		if state == r.RequiredState && changed {
			return r, true
		}
	}
	return device.FlagRule{}, false
}

// Reset forgets every observation.
func (m *FlagMatcher) Reset() {
	for i := range m.last {
		m.last[i] = flagObservation{}
	}
}

// TopicMatcher fires scenarios on MQTT messages.
type TopicMatcher struct {
	rules []device.TopicRule
}

// NewTopicMatcher builds a matcher from tpl.
func NewTopicMatcher(tpl *device.TopicTriggerTemplate) (*TopicMatcher, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: nil mqtt trigger template", device.ErrInvalidArgument)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &TopicMatcher{rules: append([]device.TopicRule(nil), tpl.Rules...)}, nil
}

// Match returns the first rule whose topic equals topic exactly and whose
// payload condition holds.
func (m *TopicMatcher) Match(topic, payload string) (device.TopicRule, bool) {
	if topic == "" {
		return device.TopicRule{}, false
	}
	for _, r := range m.rules {
		if r.Topic == "" || r.Scenario == "" {
			continue
		}
		if r.Topic != topic {
			continue
		}
		if payloadMatches(&r, payload) {
			return r, true
		}
	}
	return device.TopicRule{}, false
}

// Listens reports whether any usable rule is bound to topic.
func (m *TopicMatcher) Listens(topic string) bool {
	for _, r := range m.rules {
		if r.Topic == topic && r.Scenario != "" {
			return true
		}
	}
	return false
}

// Topics returns the topics of the usable rules, in rule order.
func (m *TopicMatcher) Topics() []string {
	topics := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Topic != "" && r.Scenario != "" && !slices.Contains(topics, r.Topic) {
			topics = append(topics, r.Topic)
		}
	}
	return topics
}

// payloadMatches reports whether payload satisfies the rule's constraint.
// A rule that requires a payload but names none never matches.
func payloadMatches(r *device.TopicRule, payload string) bool {
	if r.Payload == "" {
		return !r.PayloadRequired
	}
	if !r.PayloadRequired {
		return true
	}
	return r.Payload == payload
}
