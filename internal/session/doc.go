// Package session runs the encounter session lifecycle.
//
// A session is created by asking the gateway for an encounter, then tracks
// objective progress and NPC interactions until it is completed. Sessions live
// in a bounded LRU cache; completion is always written to the durable store
// before the call returns, and with PersistActive every mutation is.
//
// # Storage layout
//
//	session/{sessionID}.json -> Session document
//
// # Events
//
// When a Bus is configured the service publishes session.started,
// session.objective_completed, session.npc_interacted, session.completed and
// session.evicted.
//
// Mutations on one session are serialized. Different sessions proceed in
// parallel.
package session
