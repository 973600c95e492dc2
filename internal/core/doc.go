// Package core implements the session manager: the in-memory registry
// of sessions, the state machine governing their lifecycle, the bounded
// output ring, and the upload admission path that turns raw bytes into
// an Image under the daemon's resource caps.
//
// Every exported type here is designed to be driven exclusively from
// the single-threaded event loop in internal/eventloop. Nothing in this
// package takes a lock: correctness relies on the caller never mutating
// a Registry from more than one goroutine.
package core
