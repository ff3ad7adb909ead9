package store

import (
	"encoding/json"

	"github.com/hashicorp/go-multierror"
)

// SequentialFlush walks bucket by bucket and evicts matching keys after each bucket was scanned
type SequentialFlush struct{}

func (SequentialFlush) Flush(s Store, condition FlushCondition) (int, error) {
	buckets, err := s.Buckets()
	if err != nil {
		return 0, err
	}

	evicted := 0
	var result *multierror.Error
	for _, bucket := range buckets {
		var stale []string
		err := s.Scan(bucket, func(key string, _ json.RawMessage) bool {
			if condition.IsSatisfied(bucket, key) {
				stale = append(stale, key)
			}
			return true
		})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		for _, key := range stale {
			if err := s.Remove(bucket, key); err != nil && !IsNotFound(err) {
				result = multierror.Append(result, err)
				continue
			}
			evicted++
		}
	}
	return evicted, result.ErrorOrNil()
}
