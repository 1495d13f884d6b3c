// Package matrix connects coven-bridge to a Matrix homeserver as an
// application service.
//
// Service loads the appservice registration, runs the transaction listener
// and the event processor, and implements upgrade.Bridge on top of the bot
// and ghost intents. Ghosts are recognised with GhostMatcher, built from the
// registration's user namespaces.
//
// Dispatcher receives appservice events: tombstones and invites of the bot go
// to the room upgrade handler, and every event refreshes the room's last
// activity time for the active rooms gauge.
//
// ProfileCache puts a reqcache.Cache in front of profile lookups so repeated
// log labelling does not hit the homeserver.
package matrix
