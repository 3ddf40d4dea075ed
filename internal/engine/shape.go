package engine

import "fmt"

// ShapeKind names the executable a Shape specializes.
type ShapeKind string

const (
	ShapeGenerate     ShapeKind = "generate"
	ShapePrefill      ShapeKind = "prefill"
	ShapeBatchPrefill ShapeKind = "batch_prefill"
)

// Shape identifies one compiled variant. Length is the padded prompt length;
// NumPrompts is only set for batched prefill.
type Shape struct {
	Kind       ShapeKind
	Length     int
	NumPrompts int
}

func (s Shape) String() string {
	switch s.Kind {
	case ShapePrefill:
		return fmt.Sprintf("prefill[%d]", s.Length)
	case ShapeBatchPrefill:
		return fmt.Sprintf("batch_prefill[%d x%d]", s.Length, s.NumPrompts)
	default:
		return string(s.Kind)
	}
}
