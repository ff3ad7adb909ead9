package store

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ValidateDocument checks that value is a JSON object
func ValidateDocument(value json.RawMessage) error {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return NewError(RetCBadRequest, "document must be a JSON object")
	}
	return nil
}

// ValidateAddress checks bucket and key are usable names
func ValidateAddress(bucket, key string) error {
	if bucket == "" {
		return NewError(RetCBadRequest, "bucket must not be empty")
	}
	if key == "" {
		return NewError(RetCBadRequest, "key must not be empty")
	}
	if strings.ContainsRune(bucket, '/') {
		return NewError(RetCBadRequest, "bucket %q must not contain '/'", bucket)
	}
	return nil
}

// MergeDocuments sets every top-level field of patch on base. A null field in patch
// removes the field from base. base may be nil.
func MergeDocuments(base, patch json.RawMessage) (json.RawMessage, error) {
	if err := ValidateDocument(patch); err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, NewError(RetCConflict, "stored document is not an object: %v", err)
		}
	}

	var changes map[string]json.RawMessage
	if err := json.Unmarshal(patch, &changes); err != nil {
		return nil, NewError(RetCBadRequest, "invalid patch: %v", err)
	}
	for name, value := range changes {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			delete(fields, name)
			continue
		}
		fields[name] = value
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, NewError(RetCInternalError, "failed to encode merged document: %v", err)
	}
	return merged, nil
}
