package codec

import (
	"encoding/json"
	"strconv"

	"github.com/kartikbazzad/docengine/internal/value"
)

// MissingSentinel is the serialized form of a null or missing indexed field.
const MissingSentinel = ""

// isoLayout is a fixed-width ISO-8601 form so lexicographic ordering
// matches chronological order for any fixed era.
const isoLayout = "2006-01-02T15:04:05.000Z"

// SerializeIndexValue deterministically serializes v into the
// ordering-bearing byte form index entries key on. This scheme produces
// lexicographic ordering only; numeric range scans are approximate outside
// a fixed-width subset, which is why the planner always re-verifies
// candidates against the full filter.
func SerializeIndexValue(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return MissingSentinel
	case value.KindString:
		return v.Str
	case value.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case value.KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case value.KindTimestamp:
		return v.Time.UTC().Format(isoLayout)
	case value.KindObjectId:
		return v.Oid.Hex()
	case value.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(value.ToAny(v))
		if err != nil {
			return MissingSentinel
		}
		return string(b)
	}
}

// SerializeMissing returns the sentinel used when a field is absent
// entirely, distinct only in intent from a present null (both serialize to
// the same sentinel).
func SerializeMissing() string {
	return MissingSentinel
}
