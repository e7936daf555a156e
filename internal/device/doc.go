// Package device defines the configuration model of the device controller.
//
// A Config is the single authoritative document the store persists: a set of
// profiles, the active profile pointer, and the live device table mirrored
// from the active profile. Each Device carries its UI tabs, MQTT topic
// bindings, scenarios (ordered scripts of action steps) and at most one
// template assignment.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                          Config                              │
//	│  schema · generation · tab_limit · active_profile            │
//	│                                                              │
//	│  Profiles []Profile        Devices []Device                  │
//	│                              ├── Tabs []Tab                  │
//	│                              ├── Topics []TopicBinding       │
//	│                              ├── Scenarios []Scenario        │
//	│                              │      └── Steps []Step{Action} │
//	│                              └── Template (sum type)         │
//	└──────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Action: one variant per step kind (Publish, PlayAudio, WaitFlags, ...)
//   - Template: one variant per matcher kind (UIDTemplate, SignalTemplate,
//     FlagTriggerTemplate, TopicTriggerTemplate)
//
// # Serialisation
//
// EncodeConfig and DecodeConfig map the sum types onto the persisted JSON
// layout: steps are written as {"type": ..., "delay_ms": ..., ...} and
// templates as {"type": ..., "<variant>": {...}}. Decoding is tolerant in the
// same way the controller firmware always was: unknown step kinds are skipped
// and missing fields fall back to their defaults.
//
// # Thread Safety
//
// Values in this package are plain data. A *Config handed out by the store is
// a shared read-only snapshot; use Clone before modifying it.
package device
