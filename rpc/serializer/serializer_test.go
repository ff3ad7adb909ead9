package serializer

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializers(t *testing.T) []IRPCSerializer {
	t.Helper()
	var out []IRPCSerializer
	for _, name := range []string{"json", "gob"} {
		s, err := New(name)
		require.NoError(t, err)
		require.Equal(t, name, s.Name())
		out = append(out, s)
	}
	return out
}

func TestEnvelopesSurviveEncoding(t *testing.T) {
	req := &common.Request{
		ID:      "0b9c6f3e",
		Sender:  "node-1",
		Kind:    common.KindBulkPut,
		Routed:  true,
		Payload: json.RawMessage(`{"bucket":"users","documents":{"ada":{"n":1}}}`),
	}
	resp := common.NewErrorResponse("0b9c6f3e", common.ErrCMissingRoute, "no node for users/ada")

	for _, s := range serializers(t) {
		t.Run(s.Name(), func(t *testing.T) {
			data, err := s.EncodeRequest(req)
			require.NoError(t, err)
			decoded, err := s.DecodeRequest(data)
			require.NoError(t, err)
			assert.Equal(t, req.ID, decoded.ID)
			assert.Equal(t, req.Kind, decoded.Kind)
			assert.True(t, decoded.Routed)
			assert.JSONEq(t, string(req.Payload), string(decoded.Payload))

			data, err = s.EncodeResponse(resp)
			require.NoError(t, err)
			decodedResp, err := s.DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, resp, decodedResp)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	for _, s := range serializers(t) {
		_, err := s.DecodeRequest([]byte("\x00\x01garbage"))
		assert.Error(t, err, s.Name())
		_, err = s.DecodeResponse(nil)
		assert.Error(t, err, s.Name())
	}
}

func TestUnknownSerializer(t *testing.T) {
	_, err := New("binary")
	var unknown *UnknownSerializerError
	assert.ErrorAs(t, err, &unknown)
}
