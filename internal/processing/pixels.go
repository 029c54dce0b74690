package processing

import (
	"math"
	"reflect"

	"beamspot-go/internal/types"
)

// FrameFromRaw converts a decoded image message into a Frame.
func FrameFromRaw(raw types.RawMessage) (types.Frame, bool) {
	if raw.Type != "image" || !raw.Image.Valid() {
		return types.Frame{}, false
	}
	return raw.Image, true
}

// FrameFromPayload converts a decoded two-dimensional image payload (rows of
// samples) into a Frame. Samples outside the uint16 range are clamped.
func FrameFromPayload(payload any, timestamp float64) (types.Frame, bool) {
	switch v := payload.(type) {
	case [][]uint16:
		return fromRows(v, timestamp, func(x uint16) uint16 { return x })
	case [][]uint8:
		return fromRows(v, timestamp, func(x uint8) uint16 { return uint16(x) })
	case [][]uint32:
		return fromRows(v, timestamp, func(x uint32) uint16 { return clampUint16(float64(x)) })
	case [][]float32:
		return fromRows(v, timestamp, func(x float32) uint16 { return clampUint16(float64(x)) })
	case [][]int:
		return fromRows(v, timestamp, func(x int) uint16 { return clampUint16(float64(x)) })
	case [][]int64:
		return fromRows(v, timestamp, func(x int64) uint16 { return clampUint16(float64(x)) })
	case [][]any:
		return fromRows(v, timestamp, anyToUint16)
	case []any:
		rows := make([][]any, 0, len(v))
		for _, row := range v {
			rv := reflect.ValueOf(row)
			if rv.Kind() != reflect.Slice {
				return types.Frame{}, false
			}
			rows = append(rows, sliceToAny(rv))
		}
		return fromRows(rows, timestamp, anyToUint16)
	default:
		return types.Frame{}, false
	}
}

func fromRows[T any](rows [][]T, timestamp float64, conv func(T) uint16) (types.Frame, bool) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return types.Frame{}, false
	}
	width := len(rows[0])
	pix := make([]uint16, 0, width*len(rows))
	for _, row := range rows {
		if len(row) != width {
			return types.Frame{}, false
		}
		for _, x := range row {
			pix = append(pix, conv(x))
		}
	}
	return types.Frame{Width: width, Height: len(rows), Pix: pix, Timestamp: timestamp}, true
}

func anyToUint16(v any) uint16 {
	switch n := v.(type) {
	case uint64:
		return clampUint16(float64(n))
	case uint32:
		return clampUint16(float64(n))
	case uint16:
		return n
	case uint8:
		return uint16(n)
	case int64:
		return clampUint16(float64(n))
	case int:
		return clampUint16(float64(n))
	case float64:
		return clampUint16(n)
	case float32:
		return clampUint16(float64(n))
	default:
		return 0
	}
}

func clampUint16(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}

func sliceToAny(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
