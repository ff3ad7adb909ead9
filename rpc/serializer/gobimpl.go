package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding.
// Every frame is a self-contained gob stream since frames of one connection may be
// decoded by different goroutines.
type gobSerializerImpl struct {
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Name() string { return "gob" }

func (g gobSerializerImpl) EncodeRequest(req *common.Request) ([]byte, error) {
	return gobEncode(req)
}

func (g gobSerializerImpl) DecodeRequest(b []byte) (*common.Request, error) {
	req := &common.Request{}
	if err := gobDecode(b, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (g gobSerializerImpl) EncodeResponse(resp *common.Response) ([]byte, error) {
	return gobEncode(resp)
}

func (g gobSerializerImpl) DecodeResponse(b []byte) (*common.Response, error) {
	resp := &common.Response{}
	if err := gobDecode(b, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
