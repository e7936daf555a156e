package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "graylogic/devicecore"

// Topics builds the device core's own MQTT topics under a configurable prefix.
//
// Device templates name their own input and output topics; only the topics
// the core itself owns are built here:
//
//	topics := mqtt.NewTopics("graylogic/devicecore")
//	topics.ScenarioRun()
//	// Returns: "graylogic/devicecore/scenario/run"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for the given prefix. Trailing slashes are
// trimmed and an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// =============================================================================
// Core Topics
// =============================================================================

// Status returns the retained online/offline status topic, also used as LWT.
//
// Example: graylogic/devicecore/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.Prefix())
}

// ConfigChanged returns the topic announcing a committed configuration.
//
// Example: graylogic/devicecore/config/changed
func (t Topics) ConfigChanged() string {
	return fmt.Sprintf("%s/config/changed", t.Prefix())
}

// ConfigApply returns the topic accepting a full configuration document.
//
// Example: graylogic/devicecore/config/apply
func (t Topics) ConfigApply() string {
	return fmt.Sprintf("%s/config/apply", t.Prefix())
}

// ProfileActivate returns the topic accepting a profile id to activate.
//
// Example: graylogic/devicecore/profile/activate
func (t Topics) ProfileActivate() string {
	return fmt.Sprintf("%s/profile/activate", t.Prefix())
}

// ConfigReload returns the topic that makes the core re-read its stored
// configuration. The payload is ignored.
//
// Example: graylogic/devicecore/config/reload
func (t Topics) ConfigReload() string {
	return fmt.Sprintf("%s/config/reload", t.Prefix())
}

// ConfigExport returns the topic requesting an export, optionally of a
// named profile.
//
// Example: graylogic/devicecore/config/export
func (t Topics) ConfigExport() string {
	return fmt.Sprintf("%s/config/export", t.Prefix())
}

// ConfigExported returns the topic carrying exported documents.
//
// Example: graylogic/devicecore/config/exported
func (t Topics) ConfigExported() string {
	return fmt.Sprintf("%s/config/exported", t.Prefix())
}

// ProfileCreate returns the topic accepting new profiles.
//
// Example: graylogic/devicecore/profile/create
func (t Topics) ProfileCreate() string {
	return fmt.Sprintf("%s/profile/create", t.Prefix())
}

// ProfileDelete returns the topic accepting a profile id to delete.
//
// Example: graylogic/devicecore/profile/delete
func (t Topics) ProfileDelete() string {
	return fmt.Sprintf("%s/profile/delete", t.Prefix())
}

// ProfileRename returns the topic accepting profile renames.
//
// Example: graylogic/devicecore/profile/rename
func (t Topics) ProfileRename() string {
	return fmt.Sprintf("%s/profile/rename", t.Prefix())
}

// ScenarioRun returns the topic the scenario interpreter listens on.
//
// Example: graylogic/devicecore/scenario/run
func (t Topics) ScenarioRun() string {
	return fmt.Sprintf("%s/scenario/run", t.Prefix())
}

// AudioCommand returns the topic the audio player listens on.
//
// Example: graylogic/devicecore/audio/command
func (t Topics) AudioCommand() string {
	return fmt.Sprintf("%s/audio/command", t.Prefix())
}

// TemplateEvent returns the topic for template runtime events of a device.
//
// Example: graylogic/devicecore/device/door/event
func (t Topics) TemplateEvent(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/event", t.Prefix(), deviceID)
}

// Flag returns the topic carrying the state of a named flag.
//
// Example: graylogic/devicecore/flag/door_open
func (t Topics) Flag(name string) string {
	return fmt.Sprintf("%s/flag/%s", t.Prefix(), name)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllFlags returns a pattern matching every flag topic.
//
// Pattern: graylogic/devicecore/flag/+
func (t Topics) AllFlags() string {
	return fmt.Sprintf("%s/flag/+", t.Prefix())
}

// AllTopics returns a pattern matching everything under the prefix.
// Use with caution - this receives ALL core traffic.
//
// Pattern: graylogic/devicecore/#
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.Prefix())
}

// FlagName extracts the flag name from a flag topic. It reports false for
// topics outside the flag hierarchy or with a multi-level name.
func (t Topics) FlagName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.Prefix()+"/flag/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
