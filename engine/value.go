package engine

import (
	"fmt"
	"strconv"

	webdbcore "github.com/duckdb-wasm-go/webdbcore"
)

// resolve turns a parsed valueExpr into a concrete Go value, pulling from
// args (in encounter order) when it's a `?` placeholder.
func (v valueExpr) resolve(args []interface{}, argPos *int) (interface{}, error) {
	if v.IsPlaceholder {
		if *argPos >= len(args) {
			return nil, webdbcore.Invalid("not enough arguments for placeholders")
		}
		val := args[*argPos]
		*argPos++
		return val, nil
	}
	switch v.Kind {
	case tokIntLit:
		n, err := strconv.ParseInt(v.Literal, 10, 64)
		if err != nil {
			return nil, webdbcore.Invalid("bad integer literal %q", v.Literal)
		}
		return n, nil
	case tokFloatLit:
		f, err := strconv.ParseFloat(v.Literal, 64)
		if err != nil {
			return nil, webdbcore.Invalid("bad float literal %q", v.Literal)
		}
		return f, nil
	default:
		return v.Literal, nil
	}
}

// coerce converts a resolved value to the storage representation for a
// column of the given declared type, the way a column's declared type
// governs how the teacher's own row values are read back.
func coerce(colType string, v interface{}) (interface{}, error) {
	switch colType {
	case "INT":
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, webdbcore.Invalid("value %q is not an INT", n)
			}
			return parsed, nil
		}
	case "FLOAT":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, webdbcore.Invalid("value %q is not a FLOAT", n)
			}
			return parsed, nil
		}
	case "VARCHAR":
		return fmt.Sprintf("%v", v), nil
	}
	return nil, webdbcore.Invalid("cannot store %T as %s", v, colType)
}

// valuesEqual compares a stored row value against a WHERE literal, both
// already coerced to their column's declared type.
func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
