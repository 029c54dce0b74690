package types

import (
	"encoding/json"
	"math"
)

// Measurement is a float that may be absent. An absent measurement encodes
// as JSON null.
type Measurement struct {
	Value float64
	Valid bool
}

// Some returns a valid measurement. Non-finite values are treated as absent.
func Some(v float64) Measurement {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measurement{}
	}
	return Measurement{Value: v, Valid: true}
}

// None returns an absent measurement.
func None() Measurement {
	return Measurement{}
}

// Float returns the value, or NaN when absent.
func (m Measurement) Float() float64 {
	if !m.Valid {
		return math.NaN()
	}
	return m.Value
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

func (m *Measurement) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Measurement{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Some(v)
	return nil
}
