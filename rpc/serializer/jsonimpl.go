package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Name() string { return "json" }

func (j jsonSerializerImpl) EncodeRequest(req *common.Request) ([]byte, error) {
	return json.Marshal(req)
}

func (j jsonSerializerImpl) DecodeRequest(b []byte) (*common.Request, error) {
	req := &common.Request{}
	if err := json.Unmarshal(b, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (j jsonSerializerImpl) EncodeResponse(resp *common.Response) ([]byte, error) {
	return json.Marshal(resp)
}

func (j jsonSerializerImpl) DecodeResponse(b []byte) (*common.Response, error) {
	resp := &common.Response{}
	if err := json.Unmarshal(b, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
