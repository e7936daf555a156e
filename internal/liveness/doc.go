// Package liveness provides the cooperative liveness guard fed by the
// configuration store while it waits for its lock and while it copies large
// device tables.
//
// A Monitor tracks which guarded operations are in progress and when they
// last reported progress. Its Run loop logs a warning when an operation goes
// quiet for longer than the configured timeout, in the same way the process
// supervisor health-checks a subprocess.
package liveness
