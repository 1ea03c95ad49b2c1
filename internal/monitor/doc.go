// Package monitor implements the change-monitoring engine.
//
// This package is internal to sitewatch. It owns the polling loops that watch
// individual pages and the supervisor that runs them.
//
// The main components are:
//
//   - [Client]: HTTP fetcher with per-request timeouts and a body size cap
//   - [HasChanged]: pure change detection between two snapshots
//   - [Loop]: the per-target state machine (baselining, polling, cooldown)
//   - [Supervisor]: starts one Loop per target and waits for them to stop
//   - [Report]: the outcome of one loop cycle, delivered over a channel
//
// Users of the sitewatch library configure monitoring through the root
// package and do not need to use this package directly.
package monitor
