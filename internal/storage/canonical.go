package storage

import (
	"math"
)

// numberLike matches json.Number from either JSON package.
type numberLike interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// CanonicalData rewrites decoded payload values in place so every backend
// hands out the same Go types: int64 for integers, float64 for other
// numbers, string and nil.
func CanonicalData(data map[string]any) map[string]any {
	for k, v := range data {
		data[k] = canonicalValue(v)
	}
	return data
}

func canonicalValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n)
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
	case float32:
		return canonicalValue(float64(n))
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n)
		}
	case numberLike:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
