// Package sync keeps the local item cache and the hosted backend in step.
//
// Two pieces live here:
//
//   - Composite, a persistence Backend that writes locally always and
//     remotely when cloud mode is on, falling back to local-only with a
//     warning when the remote write fails.
//   - Engine, which owns cloud mode: first-run migration of local items
//     into an empty account, pulls that make the local cache match the
//     remote active set, and the background loop that pulls every few
//     seconds and whenever the change stream fires.
//
// Conflict policy is simple: once cloud mode is active the remote is
// authoritative. A pull overwrites local rows and deletes local rows the
// remote no longer lists. There is no merge.
package sync
