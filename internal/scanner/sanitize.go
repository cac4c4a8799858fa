package scanner

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"hostscan/internal/shared"
)

var errNonFinite = errors.New("non-finite numbers replaced with null")

// scrub replaces NaN and infinities with nil, in place for maps and slices.
// It reports whether anything was replaced.
func scrub(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, true
		}
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, true
		}
	case map[string]any:
		changed := false
		for k, e := range x {
			if nv, ok := scrub(e); ok {
				x[k] = nv
				changed = true
			}
		}
		return x, changed
	case []any:
		changed := false
		for i, e := range x {
			if nv, ok := scrub(e); ok {
				x[i] = nv
				changed = true
			}
		}
		return x, changed
	case []shared.Record:
		changed := false
		for _, r := range x {
			if _, ok := scrub(r); ok {
				changed = true
			}
		}
		return x, changed
	case []float64:
		out := make([]any, len(x))
		changed := false
		for i, f := range x {
			out[i] = f
			if math.IsNaN(f) || math.IsInf(f, 0) {
				out[i] = nil
				changed = true
			}
		}
		if changed {
			return out, true
		}
	}
	return v, false
}

// cleanStep makes the subtree a step produced safe to encode. Data JSON
// cannot carry at all is dropped and reported so the save never fails
// because of one provider.
func cleanStep(st step) error {
	var (
		v       any
		changed bool
	)
	if st.list != nil {
		v, changed = scrub(*st.list)
	} else {
		v, changed = scrub(*st.rec)
	}

	if _, err := json.Marshal(v); err != nil {
		if st.list != nil {
			*st.list = []shared.Record{}
		} else {
			*st.rec = shared.Record{}
		}
		return errors.Wrap(err, "provider data dropped")
	}
	if changed {
		return errNonFinite
	}
	return nil
}
