package model

import (
	"errors"
	"fmt"
	"math"
)

// LogRecord represents a structured log entry as produced by a log source.
// Fields other than Timestamp, Body, Severity and ID are carried in Attributes.
type LogRecord struct {
	Timestamp  int64                  `json:"timestamp"` // epoch milliseconds
	Body       string                 `json:"body"`
	Severity   string                 `json:"severity"`
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Getters used by the query language evaluator.
func (r LogRecord) GetTimestamp() int64                   { return r.Timestamp }
func (r LogRecord) GetSeverity() string                   { return r.Severity }
func (r LogRecord) GetBody() string                       { return r.Body }
func (r LogRecord) GetID() string                         { return r.ID }
func (r LogRecord) GetAttributes() map[string]interface{} { return r.Attributes }

// QueryTarget is one logical subquery within a request.
type QueryTarget struct {
	ID          string `json:"id"`
	FilterText  string `json:"filterText"`
	ResultLimit int    `json:"resultLimit"`
	Hidden      bool   `json:"hidden,omitempty"`
}

// ErrInvalidRange is wrapped by validation failures of a TimeRange.
var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is an inclusive window of epoch milliseconds.
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Validate reports whether From <= To.
func (r TimeRange) Validate() error {
	if r.From > r.To {
		return fmt.Errorf("%w: from %d is after to %d", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Shift returns the range moved by delta milliseconds. Bounds saturate at the
// int64 limits, so a valid range stays valid.
func (r TimeRange) Shift(delta int64) TimeRange {
	return TimeRange{From: SaturatingAdd(r.From, delta), To: SaturatingAdd(r.To, delta)}
}

// SaturatingAdd returns a+b clamped to [math.MinInt64, math.MaxInt64].
func SaturatingAdd(a, b int64) int64 {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt64
	case b < 0 && sum > a:
		return math.MinInt64
	}
	return sum
}

// QueryRequest is a full query submission.
type QueryRequest struct {
	RequestID string        `json:"requestId,omitempty"`
	Targets   []QueryTarget `json:"targets"`
	Range     TimeRange     `json:"range"`
	Streaming bool          `json:"streaming,omitempty"`
}

// ContextRequest is a derived single-target query around an anchor record.
type ContextRequest struct {
	Target QueryTarget
	Range  TimeRange
}

// Direction selects which side of an anchor record a context query covers.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// FilterActionType enumerates the supported filter rewrites.
type FilterActionType string

const (
	AddFilter    FilterActionType = "ADD_FILTER"
	AddFilterOut FilterActionType = "ADD_FILTER_OUT"
)

// FilterAction describes a rewrite of a target's filter text.
type FilterAction struct {
	Type  FilterActionType `json:"type"`
	Key   string           `json:"key"`
	Value string           `json:"value"`
}
