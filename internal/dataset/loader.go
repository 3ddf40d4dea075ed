// Package dataset reads request files for offline runs and writes their
// results.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"offlinebatch/internal/common/fsutil"
	"offlinebatch/pkg/types"
)

// MinBucket is the shortest padded length.
const MinBucket = 64

// record is one request as written in a dataset file. When TrueLength is
// zero every token is real.
type record struct {
	ID         string  `json:"id" yaml:"id"`
	Tokens     []int32 `json:"tokens" yaml:"tokens"`
	TrueLength int     `json:"true_length,omitempty" yaml:"true_length,omitempty"`
}

// PadLength returns the bucket a prompt of n real tokens is executed at:
// the smallest power of two >= max(n, MinBucket).
func PadLength(n int) int {
	l := MinBucket
	for l < n {
		l *= 2
	}
	return l
}

// Load reads requests from path based on its extension.
// Supports: .jsonl/.ndjson (one object per line), .json (array), .yaml/.yml (list)
// Requests are re-padded to their bucket; records without an id get a UUID.
func Load(path string, maxPrefill int) ([]types.Request, error) {
	abs, err := fsutil.Resolve(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	var recs []record
	switch ext := strings.ToLower(filepath.Ext(abs)); ext {
	case ".jsonl", ".ndjson":
		recs, err = decodeLines(b)
	case ".json":
		err = json.Unmarshal(b, &recs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &recs)
	default:
		return nil, fmt.Errorf("unsupported dataset extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(abs), err)
	}

	reqs := make([]types.Request, 0, len(recs))
	for i, r := range recs {
		req, err := r.request(maxPrefill)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func decodeLines(b []byte) ([]record, error) {
	var recs []record
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' { continue }
		var r record
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, r)
	}
	return recs, sc.Err()
}

func (r record) request(maxPrefill int) (types.Request, error) {
	n := r.TrueLength
	if n == 0 {
		n = len(r.Tokens)
	}
	if n <= 0 || n > len(r.Tokens) {
		return types.Request{}, fmt.Errorf("true length %d invalid for %d tokens", n, len(r.Tokens))
	}
	padded := PadLength(n)
	if padded > maxPrefill {
		return types.Request{}, fmt.Errorf("%d tokens exceed max prefill length %d", n, maxPrefill)
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	tokens := make([]int32, padded)
	copy(tokens, r.Tokens[:n])
	return types.Request{ID: id, Tokens: tokens, TrueLength: n}, nil
}
