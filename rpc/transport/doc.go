// Package transport defines how frames travel between dDoc nodes and clients.
//
// A frame is one serialized envelope. Clients dial a peer and get an IConn, a
// duplex frame stream they write requests to and read responses from; matching
// responses to requests is left to the caller. Servers accept connections and
// answer every request frame with exactly one response frame, possibly out of
// order.
//
// Implementations live in the tcp and unix packages, both built on base.
package transport
