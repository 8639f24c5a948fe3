// Package relay binds a datagram transport to a pair of unbounded queues and
// runs the loop that moves messages between them.
//
// A Session owns one transport.Transport. Callers push outbound messages with
// Enqueue and pull inbound ones with Dequeue; neither side ever waits on the
// network. The relay loop runs on a scheduler.Pool and is the only consumer of
// the outbound queue and the only producer of the inbound one.
package relay
