package qdrant

// Filter is a typed Qdrant payload filter. Conditions under Must all have
// to hold, Should contributes to scoring, MustNot excludes.
type Filter struct {
	Must    []Condition `json:"must,omitempty"`
	Should  []Condition `json:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty"`
}

// Condition matches a single payload field.
type Condition struct {
	Key   string      `json:"key"`
	Match *MatchValue `json:"match,omitempty"`
	Range *RangeValue `json:"range,omitempty"`
}

// MatchValue matches a field against one value or any of several.
type MatchValue struct {
	Value interface{}   `json:"value,omitempty"`
	Any   []interface{} `json:"any,omitempty"`
}

// RangeValue matches a numeric field against inclusive bounds.
type RangeValue struct {
	GTE *float64 `json:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
	GT  *float64 `json:"gt,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
}

// NewFilter returns an empty filter.
func NewFilter() *Filter {
	return &Filter{}
}

// MustMatch requires key to equal value.
func (f *Filter) MustMatch(key string, value interface{}) *Filter {
	f.Must = append(f.Must, Condition{Key: key, Match: &MatchValue{Value: value}})
	return f
}

// MustMatchAny requires key to equal one of values.
func (f *Filter) MustMatchAny(key string, values ...interface{}) *Filter {
	f.Must = append(f.Must, Condition{Key: key, Match: &MatchValue{Any: values}})
	return f
}

// MustRange requires key to fall within [gte, lte]. Nil bounds are open.
func (f *Filter) MustRange(key string, gte, lte *float64) *Filter {
	f.Must = append(f.Must, Condition{Key: key, Range: &RangeValue{GTE: gte, LTE: lte}})
	return f
}

// MustNotMatch excludes points where key equals value.
func (f *Filter) MustNotMatch(key string, value interface{}) *Filter {
	f.MustNot = append(f.MustNot, Condition{Key: key, Match: &MatchValue{Value: value}})
	return f
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0 && len(f.MustNot) == 0)
}

// Float64 returns a pointer to v, for range bounds.
func Float64(v float64) *float64 {
	return &v
}
