// Package worker implements the offline resource cache worker: an explicit
// table of event handlers (install, activate, fetch, push, notificationclick),
// each a function from an event to an Outcome.
//
// A Worker keeps no mutable state between events. Everything that has to
// survive lives in the named cache.Store opened on every event, so the host
// may drop and recreate the Worker at any time. Hosts (the HTTP adapter, the
// registration in package host) dispatch events and act on the Outcome.
package worker
