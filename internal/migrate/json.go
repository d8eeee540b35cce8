package migrate

import (
	"encoding/json"
	"time"

	"github.com/juju/mgo/v3/bson"
)

// jsonTimestampLayout renders microseconds even when they are zero; the
// explicit Z suffix is appended separately so the marker is always literal.
const jsonTimestampLayout = "2006-01-02T15:04:05.000000"

// encodeJSON renders v as a JSON string for a JSON-typed destination column.
// Every timestamp anywhere in the value is serialized as ISO-8601 with
// microsecond precision and a literal UTC suffix.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(jsonValue(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(jsonTimestampLayout) + "Z"
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Name] = jsonValue(e.Value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonValue(e)
		}
		return out
	default:
		return v
	}
}
