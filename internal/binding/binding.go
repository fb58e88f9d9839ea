// Package binding infers the wire type of positional query values.
package binding

import (
	"reflect"
	"strconv"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// IntLimit is the first magnitude that no longer fits a 32-bit integer
// parameter. Integers at or above it are sent as strings so wire formats
// with 32-bit integer parameters cannot truncate them.
const IntLimit = 1 << 31

// Bind tags every value with its wire type.
func Bind(values []any) []pgwarden.Param {
	params := make([]pgwarden.Param, len(values))
	for i, v := range values {
		params[i] = Infer(v)
	}
	return params
}

// Infer tags a single value:
//   - nil (including typed nil pointers) is null
//   - booleans become integer 0 or 1
//   - integers with magnitude below 2^31 stay integers
//   - larger integers become their decimal string
//   - everything else is bound as a string-typed value, unchanged
func Infer(v any) pgwarden.Param {
	switch x := v.(type) {
	case nil:
		return pgwarden.Param{Type: pgwarden.ParamNull}
	case bool:
		if x {
			return pgwarden.Param{Value: int64(1), Type: pgwarden.ParamInt}
		}
		return pgwarden.Param{Value: int64(0), Type: pgwarden.ParamInt}
	case int:
		return signed(int64(x))
	case int8:
		return signed(int64(x))
	case int16:
		return signed(int64(x))
	case int32:
		return signed(int64(x))
	case int64:
		return signed(x)
	case uint:
		return unsigned(uint64(x))
	case uint8:
		return unsigned(uint64(x))
	case uint16:
		return unsigned(uint64(x))
	case uint32:
		return unsigned(uint64(x))
	case uint64:
		return unsigned(x)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return pgwarden.Param{Type: pgwarden.ParamNull}
		}
		return Infer(rv.Elem().Interface())
	}

	return pgwarden.Param{Value: v, Type: pgwarden.ParamString}
}

func signed(n int64) pgwarden.Param {
	if n > -IntLimit && n < IntLimit {
		return pgwarden.Param{Value: n, Type: pgwarden.ParamInt}
	}
	return pgwarden.Param{Value: strconv.FormatInt(n, 10), Type: pgwarden.ParamString}
}

func unsigned(n uint64) pgwarden.Param {
	if n < IntLimit {
		return pgwarden.Param{Value: int64(n), Type: pgwarden.ParamInt}
	}
	return pgwarden.Param{Value: strconv.FormatUint(n, 10), Type: pgwarden.ParamString}
}
