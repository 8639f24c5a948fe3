// Package signaling answers browser SDP offers for a relay session.
//
// Two surfaces are provided: POST /rtc/session takes an offer in the request
// body and returns the answer, and GET /rtc/signal upgrades to a WebSocket
// carrying {"type":"offer"} / {"type":"answer"} frames. Answers are complete
// (non-trickle), so no candidate exchange follows.
package signaling
