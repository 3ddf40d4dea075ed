package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: scheduler not warmed up
	Error string `json:"error"`
	// HTTP status code.
	// example: 503
	Code int `json:"code"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// True once warm-up has compiled every variant.
	Warm bool `json:"warm"`
	// True while a batch run is in progress.
	Running bool `json:"running"`
	// Label of the current or last run (e.g. "warmup").
	Desc string `json:"desc,omitempty"`
	// Number of decode slots in the pool.
	// example: 8
	Slots int `json:"slots"`
	// Slots acquired and not yet released.
	// example: 3
	SlotsInFlight int `json:"slots_in_flight"`
	// Entries waiting in the result queue.
	QueueDepth int `json:"queue_depth"`
	// Capacity of the result queue.
	// example: 10
	QueueCapacity int `json:"queue_capacity"`
	// Number of compiled prefill variants (single + batched).
	Variants int `json:"variants"`
	// Requests submitted in the current or last run.
	Submitted int `json:"submitted"`
	// Prefill calls that ran one request.
	SinglePrefills uint64 `json:"single_prefills"`
	// Prefill calls that ran several requests at once.
	BatchedPrefills uint64 `json:"batched_prefills"`
	// Decode dispatches (each runs DecodeSteps generate steps).
	Decodes uint64 `json:"decodes"`
	// Tokens handed to emit callbacks.
	TokensEmitted uint64 `json:"tokens_emitted"`
	// Last error observed by the scheduler (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the process in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// ResultRecord is one line of the results file written by the CLI.
type ResultRecord struct {
	ID     string  `json:"id"`
	Tokens []int32 `json:"tokens"`
}
