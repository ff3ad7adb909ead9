package serializer

import "github.com/ValentinKolb/dDoc/rpc/common"

// IRPCSerializer encodes the envelopes of the command protocol
type IRPCSerializer interface {
	// Name returns the configuration name of the serializer
	Name() string
	// EncodeRequest serializes a request
	EncodeRequest(req *common.Request) ([]byte, error)
	// DecodeRequest deserializes a request
	DecodeRequest(b []byte) (*common.Request, error)
	// EncodeResponse serializes a response
	EncodeResponse(resp *common.Response) ([]byte, error)
	// DecodeResponse deserializes a response
	DecodeResponse(b []byte) (*common.Response, error)
}

// New returns the serializer registered under name
func New(name string) (IRPCSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, &UnknownSerializerError{Name: name}
	}
}

// UnknownSerializerError is returned by New for unsupported names
type UnknownSerializerError struct {
	Name string
}

func (e *UnknownSerializerError) Error() string {
	return "invalid serializer " + e.Name + " (expected json or gob)"
}
