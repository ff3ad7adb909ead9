package command

import (
	"encoding/json"
	"math"
	"strings"
)

// --------------------------------------------------------------------------
// Mappers
// --------------------------------------------------------------------------

// Mapper turns a document into a value. Documents for which ok is false are skipped.
type Mapper func(key string, value json.RawMessage) (mapped json.RawMessage, ok bool, err error)

// LookupMapper resolves a mapper name: "identity" (also ""), "keys" or "field:<name>"
func LookupMapper(name string) (Mapper, error) {
	switch {
	case name == "" || name == "identity":
		return func(_ string, value json.RawMessage) (json.RawMessage, bool, error) {
			return value, true, nil
		}, nil
	case name == "keys":
		return func(key string, _ json.RawMessage) (json.RawMessage, bool, error) {
			data, err := json.Marshal(key)
			return data, err == nil, err
		}, nil
	case strings.HasPrefix(name, "field:"):
		field := strings.TrimPrefix(name, "field:")
		if field == "" {
			return nil, badRequest("mapper %q without field", name)
		}
		return func(_ string, value json.RawMessage) (json.RawMessage, bool, error) {
			return fieldOf(value, field)
		}, nil
	default:
		return nil, badRequest("unknown mapper %q", name)
	}
}

// fieldOf returns the top-level field of a JSON object
func fieldOf(value json.RawMessage, field string) (json.RawMessage, bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, false, nil
	}
	raw, ok := doc[field]
	return raw, ok, nil
}

// --------------------------------------------------------------------------
// Reducers
// --------------------------------------------------------------------------

// Reducer aggregates mapped values. Reduce runs on every node over its local
// values, Combine merges the partial results on the routing node.
type Reducer interface {
	Reduce(values []json.RawMessage) (json.RawMessage, error)
	Combine(partials []json.RawMessage) (json.RawMessage, error)
}

// LookupReducer resolves a reducer name: "count", "sum:<field>", "min:<field>",
// "max:<field>" or "stats:<field>". An empty field uses the mapped value itself.
func LookupReducer(name string) (Reducer, error) {
	op, field, _ := strings.Cut(name, ":")
	switch op {
	case "count":
		return countReducer{}, nil
	case "sum":
		return sumReducer{field: field}, nil
	case "min":
		return extremeReducer{field: field, less: func(a, b float64) bool { return a < b }}, nil
	case "max":
		return extremeReducer{field: field, less: func(a, b float64) bool { return a > b }}, nil
	case "stats":
		return statsReducer{field: field}, nil
	default:
		return nil, badRequest("unknown reducer %q", name)
	}
}

// numberOf extracts the number at field of value, ok is false for non-numeric values
func numberOf(value json.RawMessage, field string) (float64, bool) {
	if field != "" {
		raw, ok, _ := fieldOf(value, field)
		if !ok {
			return 0, false
		}
		value = raw
	}
	var n *float64
	if err := json.Unmarshal(value, &n); err != nil || n == nil {
		return 0, false
	}
	return *n, true
}

type countReducer struct{}

func (countReducer) Reduce(values []json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(len(values))
}

func (countReducer) Combine(partials []json.RawMessage) (json.RawMessage, error) {
	total := 0
	for _, partial := range partials {
		var n int
		if err := json.Unmarshal(partial, &n); err != nil {
			return nil, badRequest("invalid partial count: %v", err)
		}
		total += n
	}
	return json.Marshal(total)
}

type sumReducer struct{ field string }

func (r sumReducer) Reduce(values []json.RawMessage) (json.RawMessage, error) {
	var sum float64
	for _, value := range values {
		if n, ok := numberOf(value, r.field); ok {
			sum += n
		}
	}
	return json.Marshal(sum)
}

func (sumReducer) Combine(partials []json.RawMessage) (json.RawMessage, error) {
	return sumReducer{}.Reduce(partials)
}

// extremeReducer keeps the value preferred by less, null if there are no numbers
type extremeReducer struct {
	field string
	less  func(a, b float64) bool
}

func (r extremeReducer) pick(values []json.RawMessage, field string) (json.RawMessage, error) {
	var best *float64
	for _, value := range values {
		n, ok := numberOf(value, field)
		if !ok {
			continue
		}
		if best == nil || r.less(n, *best) {
			best = &n
		}
	}
	return json.Marshal(best)
}

func (r extremeReducer) Reduce(values []json.RawMessage) (json.RawMessage, error) {
	return r.pick(values, r.field)
}

func (r extremeReducer) Combine(partials []json.RawMessage) (json.RawMessage, error) {
	return r.pick(partials, "")
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats describes the distribution of numeric values
type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// moments is the mergeable partial result of the stats reducer
type moments struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	SumSq float64 `json:"sum_sq"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (m *moments) add(v float64) {
	if m.Count == 0 || v < m.Min {
		m.Min = v
	}
	if m.Count == 0 || v > m.Max {
		m.Max = v
	}
	m.Count++
	m.Sum += v
	m.SumSq += v * v
}

func (m *moments) merge(o moments) {
	if o.Count == 0 {
		return
	}
	if m.Count == 0 || o.Min < m.Min {
		m.Min = o.Min
	}
	if m.Count == 0 || o.Max > m.Max {
		m.Max = o.Max
	}
	m.Count += o.Count
	m.Sum += o.Sum
	m.SumSq += o.SumSq
}

// stats computes mean and population standard deviation
func (m moments) stats() Stats {
	if m.Count == 0 {
		return Stats{}
	}
	mean := m.Sum / float64(m.Count)
	variance := m.SumSq/float64(m.Count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stats{
		Count:        m.Count,
		StdDeviation: math.Sqrt(variance),
		Min:          m.Min,
		Max:          m.Max,
		Mean:         mean,
	}
}

type statsReducer struct{ field string }

func (r statsReducer) Reduce(values []json.RawMessage) (json.RawMessage, error) {
	var m moments
	for _, value := range values {
		if n, ok := numberOf(value, r.field); ok {
			m.add(n)
		}
	}
	return json.Marshal(m)
}

func (statsReducer) Combine(partials []json.RawMessage) (json.RawMessage, error) {
	var total moments
	for _, partial := range partials {
		var m moments
		if err := json.Unmarshal(partial, &m); err != nil {
			return nil, badRequest("invalid partial stats: %v", err)
		}
		total.merge(m)
	}
	return json.Marshal(total.stats())
}
