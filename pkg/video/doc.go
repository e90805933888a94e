// Package video defines the provider-neutral contract for conferencing
// backends used by facility visits.
//
// A Provider manages rooms, participants, and recordings. Adapters for
// individual services live in sub-packages (twilio, daily, googlemeet,
// livekit); each embeds *Base, which owns validation, defaults, the
// protected-call security policy, and the recording state machine:
//
//	none -> active <-> paused -> stopped
//
// Base delegates the service calls to a Backend chosen once at Initialize:
// a live client when credentials are configured, or the simulated backend
// from package simulated otherwise.
//
// Every failure is an *Error whose Kind can be tested with the Is*
// predicates:
//
//	if video.IsSecurityPolicy(err) {
//	    // recording denied for a protected call
//	}
package video
