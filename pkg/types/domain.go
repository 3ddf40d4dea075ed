package types

// Request is one tokenized prompt submitted for offline inference.
type Request struct {
	// Caller-chosen identity; results are keyed by it.
	// example: 3f1c2b9e-1d7c-4b1e-9a55-2f0d2f6c0c11
	ID string `json:"id" yaml:"id"`
	// Token IDs padded with zeros up to the bucket length.
	Tokens []int32 `json:"tokens" yaml:"tokens"`
	// Count of real (non-padding) tokens at the head of Tokens.
	// example: 97
	TrueLength int `json:"true_length" yaml:"true_length"`
}

// PaddedLength is the static shape the request is executed at.
func (r Request) PaddedLength() int { return len(r.Tokens) }

// StepResult is one generate step's raw output, indexed by slot.
type StepResult struct {
	Tokens  []int32
	Valid   []bool
	Lengths []int
}

// NewStepResult allocates a result for n slots.
func NewStepResult(n int) *StepResult {
	return &StepResult{
		Tokens:  make([]int32, n),
		Valid:   make([]bool, n),
		Lengths: make([]int, n),
	}
}

// Slot returns the token, validity and running output length for slot i.
func (r *StepResult) Slot(i int) (int32, bool, int) {
	return r.Tokens[i], r.Valid[i], r.Lengths[i]
}

// Slots reports how many slots the result covers.
func (r *StepResult) Slots() int { return len(r.Tokens) }
