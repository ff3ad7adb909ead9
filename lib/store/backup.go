package store

import (
	"bufio"
	"encoding/json"
	"io"
)

// BackupLine is one document of a backup stream
type BackupLine struct {
	Bucket string          `json:"bucket"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// WriteBackup writes every document of s as one JSON line to w
func WriteBackup(s Store, w io.Writer) error {
	buckets, err := s.Buckets()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, bucket := range buckets {
		var encErr error
		err := s.Scan(bucket, func(key string, value json.RawMessage) bool {
			encErr = enc.Encode(BackupLine{Bucket: bucket, Key: key, Value: value})
			return encErr == nil
		})
		if err != nil {
			return err
		}
		if encErr != nil {
			return NewError(RetCInternalError, "failed to write backup: %v", encErr)
		}
	}
	if err := bw.Flush(); err != nil {
		return NewError(RetCInternalError, "failed to write backup: %v", err)
	}
	return nil
}

// ReadBackup stores every line of r in s
func ReadBackup(s Store, r io.Reader) (int, error) {
	return ForEachBackupLine(r, func(bucket, key string, value json.RawMessage) error {
		return s.Put(bucket, key, value)
	})
}

// ForEachBackupLine decodes a backup stream and calls fn per document
func ForEachBackupLine(r io.Reader, fn func(bucket, key string, value json.RawMessage) error) (int, error) {
	dec := json.NewDecoder(r)
	count := 0
	for {
		var line BackupLine
		if err := dec.Decode(&line); err == io.EOF {
			return count, nil
		} else if err != nil {
			return count, NewError(RetCBadRequest, "invalid backup line %d: %v", count+1, err)
		}
		if err := fn(line.Bucket, line.Key, line.Value); err != nil {
			return count, err
		}
		count++
	}
}
