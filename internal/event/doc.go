// Package event publishes session lifecycle events over an in-process
// watermill GoChannel.
//
// The session engine publishes one event per state change:
//
//	session.started              a session was created
//	session.objective_completed  an objective was marked complete
//	session.npc_interacted       an NPC interaction was recorded
//	session.completed            a session reached its terminal state
//	session.evicted              a session left the cache
//
// Each event type is a watermill topic. SubscribeAll listens on a shared
// topic that receives a copy of every event. A Bus is owned by whoever
// creates it; there is no package-level bus.
package event
