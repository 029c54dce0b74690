package output

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// NormalizeJSONValue converts a generically decoded CBOR value into one that
// encoding/json accepts. Byte strings are summarized by length.
func NormalizeJSONValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = NormalizeJSONValue(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = NormalizeJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeJSONValue(val)
		}
		return out
	case cbor.Tag:
		return map[string]any{"tag": t.Number, "content": NormalizeJSONValue(t.Content)}
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(t))
	default:
		return t
	}
}
