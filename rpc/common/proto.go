package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Envelopes
// --------------------------------------------------------------------------

// Request is the envelope of every command sent between nodes and from clients.
// The payload is the JSON encoded command body, its shape depends on Kind.
type Request struct {
	// ID identifies the command. Retries of a command keep their ID so receivers can deduplicate.
	ID string `json:"id"`
	// CorrelationID is unique per transmission and echoed by the response
	CorrelationID string `json:"correlation_id,omitempty"`
	// Sender is the name of the node (or client) that sent the request
	Sender string `json:"sender,omitempty"`
	// Kind selects the operation
	Kind Kind `json:"kind"`
	// Routed requests are executed through the router of the receiving node,
	// all others are executed on its local store
	Routed bool `json:"routed,omitempty"`
	// Payload is the operation body
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ReplyTo returns the id a response to this request must carry
func (r *Request) ReplyTo() string {
	if r.CorrelationID != "" {
		return r.CorrelationID
	}
	return r.ID
}

// Response answers exactly one Request
type Response struct {
	CorrelationID string          `json:"correlation_id"`
	ErrorCode     ErrorCode       `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// IsOk returns true if the response carries no error
func (r *Response) IsOk() bool {
	return r.ErrorCode == ""
}

// Err returns the error of the response as *ResponseError, nil if the response is ok
func (r *Response) Err() error {
	if r.IsOk() {
		return nil
	}
	return &ResponseError{Code: r.ErrorCode, Message: r.ErrorMessage}
}

// Decode unmarshals the result into v. Errors of the response are returned first.
func (r *Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return &ResponseError{Code: ErrCInternal, Message: fmt.Sprintf("invalid result: %v", err)}
	}
	return nil
}

// --------------------------------------------------------------------------
// Envelope Factory Functions
// --------------------------------------------------------------------------

// NewRequest encodes payload into a new request
func NewRequest(id string, kind Kind, payload any) (*Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return &Request{ID: id, Kind: kind, Payload: data}, nil
}

// NewResultResponse encodes result into a successful response
func NewResultResponse(correlationID string, result any) *Response {
	if result == nil {
		return &Response{CorrelationID: correlationID}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(correlationID, ErrCInternal, "failed to encode result: %v", err)
	}
	return &Response{CorrelationID: correlationID, Result: data}
}

// NewErrorResponse creates a failed response
func NewErrorResponse(correlationID string, code ErrorCode, format string, args ...any) *Response {
	return &Response{
		CorrelationID: correlationID,
		ErrorCode:     code,
		ErrorMessage:  fmt.Sprintf(format, args...),
	}
}

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrorCode classifies a failed response
type ErrorCode string

const (
	ErrCNotFound      ErrorCode = "not-found"      // no document under the key
	ErrCConflict      ErrorCode = "conflict"       // operation conflicts with stored state
	ErrCBadRequest    ErrorCode = "bad-request"    // invalid request
	ErrCInternal      ErrorCode = "internal-error" // the executing node failed or timed out
	ErrCCommunication ErrorCode = "communication"  // a peer could not be reached
	ErrCMissingRoute  ErrorCode = "missing-route"  // no node owns the key
)

// ResponseError is the client side view of a failed response
type ResponseError struct {
	Code    ErrorCode
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --------------------------------------------------------------------------
// Kind Definition
// --------------------------------------------------------------------------

// Kind is the operation of a request
type Kind uint8

const (
	KindUnknown Kind = iota

	// single document operations

	KindGet    // read one document
	KindPut    // write (or merge) one document
	KindRemove // remove one document

	// multi document operations

	KindBulkGet    // read many documents
	KindBulkPut    // write many documents
	KindBulkRemove // remove many documents
	KindRange      // documents of a key range
	KindQuery      // documents matching a predicate
	KindMap        // apply a named mapper to a bucket
	KindReduce     // map, then fold with a named reducer

	// cluster operations

	KindMembership   // view of the local cluster
	KindBuckets      // list buckets
	KindRemoveBucket // drop a bucket in every cluster
	KindExport       // backup
	KindImport       // restore

	// lock operations

	KindLockAcquire // acquire a document lock
	KindLockRelease // release a document lock
)

var kindNames = map[Kind]string{
	KindGet:          "get",
	KindPut:          "put",
	KindRemove:       "remove",
	KindBulkGet:      "bulk-get",
	KindBulkPut:      "bulk-put",
	KindBulkRemove:   "bulk-remove",
	KindRange:        "range",
	KindQuery:        "query",
	KindMap:          "map",
	KindReduce:       "reduce",
	KindMembership:   "membership",
	KindBuckets:      "buckets",
	KindRemoveBucket: "remove-bucket",
	KindExport:       "export",
	KindImport:       "import",
	KindLockAcquire:  "lock-acquire",
	KindLockRelease:  "lock-release",
}

// Kinds returns every known kind
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := KindGet; k <= KindLockRelease; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind converts a name back into a Kind
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown kind: %s", name)
}

// MarshalJSON serializes the kind as its name
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON parses the name of a kind
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
