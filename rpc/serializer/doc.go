// Package serializer encodes the Request and Response envelopes of the command
// protocol into transport frames.
//
// Key Components:
//
//   - IRPCSerializer: the interface every codec implements.
//
//   - jsonSerializerImpl: JSON encoding, human-readable, kinds appear by name.
//     The default.
//
//   - gobSerializerImpl: Go's gob encoding. Every frame is encoded as its own gob
//     stream, so type information is repeated per frame and frames can be decoded
//     independently.
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	s, err := serializer.New("json")
//	data, err := s.EncodeRequest(req)
//	// ... send data ...
//	resp, err := s.DecodeResponse(received)
package serializer
