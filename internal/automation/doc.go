// Package automation provides the template runtime for the device core.
//
// Each device may carry one template assignment. The Registry turns the
// assignments of the active device list into per-device runtimes, and the
// Dispatcher feeds them MQTT messages, heartbeats and flag changes.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│              Dispatcher (dispatcher.go)               │
//	│  HandleMessage / HandleFlag / HandleTopicRule         │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Registry (registry.go)        [locked]      │     │
//	│  │  uid[4]  signal[4]  flag[16]  mqtt[16]       │     │
//	│  │  1. match runtimes for the input             │     │
//	│  │  2. step the matchers (internal/template)    │     │
//	│  │  3. collect effects                          │     │
//	│  └──────────────────────────────────────────────┘     │
//	│        │ effects (effects.go)          [unlocked]     │
//	│        ▼                                              │
//	│  Publisher · AudioPlayer · ScenarioTrigger · Recorder │
//	└───────────────────────────────────────────────────────┘
//
// Terminal events trigger the well-known scenarios "uid_success",
// "uid_fail" and "signal_complete"; rule matches trigger the rule's own
// scenario. Scenarios are optional per device, so an unknown scenario is
// not an error.
//
// # Key Types
//
//   - Registry: fixed-capacity runtime table, rebuilt after each commit
//   - Dispatcher: routes input to runtimes and carries out side effects
//   - ScenarioForwarder: ScenarioTrigger publishing step scripts over MQTT
//   - SQLiteHistory: Recorder keeping template events in SQLite
//
// # Thread Safety
//
// Registry and Dispatcher are safe for concurrent use. Runtime state is
// guarded by the registry lock; collaborators are called without it.
//
// # Usage
//
//	registry := automation.NewRegistry()
//	registry.SetLogger(log)
//
//	dispatcher := automation.NewDispatcher(registry, automation.Options{
//	    Publisher: publisher,
//	    Audio:     audio,
//	    Scenarios: automation.NewScenarioForwarder(store, publisher, topic),
//	    Recorder:  automation.NewSQLiteHistory(db.DB),
//	    Logger:    log,
//	})
//
//	handled := dispatcher.HandleMessage(ctx, topic, payload)
package automation
