// Package daemon wires the session registry, launcher, and readiness
// loop into a running TCP service: it accepts client connections,
// frames the line-based command protocol (switching to raw byte
// consumption for UPLOAD payloads), dispatches verbs against
// internal/core and internal/launch, and drives the output-collector
// and process-watcher state transitions as the event loop reports
// pipe and exit-handle readiness.
//
// Everything in this package runs on the single goroutine that calls
// eventloop.Loop.Run — there is no synchronization because there is no
// concurrency.
package daemon
