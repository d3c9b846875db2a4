package storage

import (
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 that survives JSON when it is not finite. +Inf, -Inf
// and NaN are written as the strings "+Inf", "-Inf" and "NaN".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) > 0 && s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("float %s: %w", data, err)
		}
		s = unquoted
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("float %s: %w", data, err)
	}
	*f = Float(v)
	return nil
}

func floatMap(m map[string]float64) map[string]Float {
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

func floatRows(rows [][]float64) [][]Float {
	out := make([][]Float, len(rows))
	for i, row := range rows {
		out[i] = make([]Float, len(row))
		for j, v := range row {
			out[i][j] = Float(v)
		}
	}
	return out
}
