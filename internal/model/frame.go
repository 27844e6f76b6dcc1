package model

// Column names of a log frame, in field order.
const (
	FieldTimestamp  = "timestamp"
	FieldBody       = "body"
	FieldSeverity   = "severity"
	FieldID         = "id"
	FieldAttributes = "attributes"
)

// Columns holds the parallel columns of a log frame. All slices have the same length.
type Columns struct {
	Timestamp  []int64                  `json:"timestamp"`
	Body       []string                 `json:"body"`
	Severity   []string                 `json:"severity"`
	ID         []string                 `json:"id"`
	Attributes []map[string]interface{} `json:"attributes"`
}

// Len returns the number of rows.
func (c Columns) Len() int {
	return len(c.Timestamp)
}

// FrameMeta describes how a frame should be interpreted by its consumer.
type FrameMeta struct {
	Type              string   `json:"type"`
	ResultLimit       int      `json:"resultLimit"`
	SearchTerms       []string `json:"searchTerms"`
	VisualizationHint string   `json:"visualizationHint"`
}

// ResultFrame is the columnar result for one target.
type ResultFrame struct {
	TargetID string    `json:"targetId"`
	Columns  Columns   `json:"columns"`
	Meta     FrameMeta `json:"meta"`
}

// QueryState is the loading state attached to a response.
type QueryState string

const (
	StateDone      QueryState = "Done"
	StateStreaming QueryState = "Streaming"
	StateError     QueryState = "Error"
)

// QueryError is the serializable error attached to a response in the Error state.
type QueryError struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// QueryResponse is the result of a query or of one streaming tick.
type QueryResponse struct {
	Frames []ResultFrame `json:"frames"`
	State  QueryState    `json:"state"`
	Error  *QueryError   `json:"error,omitempty"`
}
