package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"offlinebatch/internal/common/fsutil"
	"offlinebatch/pkg/types"
)

// WriteResults writes one record per request, in the order of reqs. A .json
// path gets an array; anything else gets JSON lines.
func WriteResults(path string, reqs []types.Request, results map[string][]int32) error {
	abs, err := fsutil.Resolve(path)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureParentDir(abs); err != nil {
		return err
	}
	recs := make([]types.ResultRecord, 0, len(reqs))
	for _, r := range reqs {
		toks, ok := results[r.ID]
		if !ok {
			return fmt.Errorf("no result for %q", r.ID)
		}
		recs = append(recs, types.ResultRecord{ID: r.ID, Tokens: toks})
	}

	f, err := os.Create(abs)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if strings.EqualFold(filepath.Ext(abs), ".json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(recs)
	} else {
		enc := json.NewEncoder(w)
		for _, rec := range recs {
			if err = enc.Encode(rec); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
