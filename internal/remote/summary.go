package remote

import (
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"hostscan/internal/shared"
)

// Summary is the fixed projection returned by Recent.
type Summary struct {
	ID        string `json:"_id"`
	ScanID    string `json:"scan_id"`
	Timestamp string `json:"timestamp"`
	Hostname  string `json:"hostname"`
	OSName    string `json:"os_name"`
}

func summarize(d bson.M) Summary {
	return Summary{
		ID:        idString(d["_id"]),
		ScanID:    stringAt(d, "identifiers", "scan_id"),
		Timestamp: stringAt(d, "identifiers", "timestamp"),
		Hostname:  stringAt(d, "system_info", "operating_system", "hostname"),
		OSName:    stringAt(d, "system_info", "operating_system", "name"),
	}
}

// lookup walks nested documents whichever shape the decoder produced.
func lookup(v any, path ...string) (any, bool) {
	for _, key := range path {
		var (
			next any
			ok   bool
		)
		switch m := v.(type) {
		case bson.M:
			next, ok = m[key]
		case map[string]any:
			next, ok = m[key]
		case bson.D:
			for _, e := range m {
				if e.Key == key {
					next, ok = e.Value, true
					break
				}
			}
		}
		if !ok {
			return nil, false
		}
		v = next
	}
	return v, true
}

func stringAt(d bson.M, path ...string) string {
	v, ok := lookup(d, path...)
	if !ok {
		return shared.Unknown
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return shared.Unknown
	}
	return s
}

// number reads the numeric types server commands report in.
func number(v any) float64 {
	switch n := v.(type) {
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
