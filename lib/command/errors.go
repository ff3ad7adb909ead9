package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/router"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// ErrorCodeOf classifies err as a wire error code
func ErrorCodeOf(err error) common.ErrorCode {
	var respErr *common.ResponseError
	var storeErr *store.Error
	switch {
	case errors.As(err, &respErr):
		return respErr.Code
	case errors.Is(err, router.ErrNoRoute):
		return common.ErrCMissingRoute
	case errors.As(err, &storeErr):
		switch storeErr.Code {
		case store.RetCNotFound:
			return common.ErrCNotFound
		case store.RetCConflict:
			return common.ErrCConflict
		case store.RetCBadRequest:
			return common.ErrCBadRequest
		}
		return common.ErrCInternal
	default:
		return common.ErrCInternal
	}
}

// ToResponse converts err into an error response
func ToResponse(id string, err error) *common.Response {
	return common.NewErrorResponse(id, ErrorCodeOf(err), "%v", err)
}

// badRequest is returned for payloads that cannot be decoded or are incomplete
func badRequest(format string, args ...any) error {
	return &common.ResponseError{Code: common.ErrCBadRequest, Message: fmt.Sprintf(format, args...)}
}

// decode unmarshals the payload of req into v
func decode(req *common.Request, v any) error {
	if len(req.Payload) == 0 {
		return badRequest("%s request without payload", req.Kind)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return badRequest("invalid %s payload: %v", req.Kind, err)
	}
	return nil
}

// reply turns a result and an error into a response
func reply(req *common.Request, result any, err error) *common.Response {
	if err != nil {
		return ToResponse(req.ReplyTo(), err)
	}
	return common.NewResultResponse(req.ReplyTo(), result)
}
