// Package template implements the per-device matcher state machines.
//
// Each matcher is built from a device.Template and holds its own copy of it,
// so a matcher never aliases the store's configuration:
//
//   - UIDValidator accumulates verified identifier slots until every
//     populated slot of a UID template has been satisfied.
//   - SignalTimer accumulates continuous hold time from heartbeat ticks and
//     reports start, stop (discontinuity) and completion.
//   - FlagMatcher and TopicMatcher scan ordered rule tables and return the
//     first rule that fires.
//
// The matchers perform no I/O and read no clock: callers pass values and tick
// timestamps in, and derive side effects from the returned events.
//
// # Thread Safety
//
// Matchers are not safe for concurrent use. The automation registry
// serialises access to them.
package template
