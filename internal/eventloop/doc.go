// Package eventloop implements the daemon's single-threaded readiness
// multiplexer: one unix.Poll call per iteration joining the listener,
// every live client socket, every live capture pipe, and every live
// process-exit handle.
//
// Generalized from the single-purpose unix.Poll loops seen elsewhere
// in this codebase's lineage (an inotify watcher, a single-fd change
// watcher), both of which poll exactly one fd with a 100ms timeout so
// a stop channel stays responsive. This package keeps that same
// poll-with-timeout shape but drives an arbitrary registry of fds,
// each with its own readiness callback, so one loop can serve the
// whole daemon instead of one goroutine per fd.
package eventloop
