// Package store keeps the last known state of every monitored target.
//
// The main components are:
//
//   - [State]: storage representation of one target's monitor state
//   - [Store]: interface for in-process storage with subscriptions
//   - [MemoryStore]: in-memory implementation of Store with pub/sub
//   - [Persister]: interface for durable storage, implemented by the
//     sqlite and postgres subpackages
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block monitoring).
//
// Only the latest state per target is kept. There is no history.
package store
