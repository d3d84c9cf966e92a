package types

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Value is one decoded cell in canonical form. Only the payload field that
// matches Kind is meaningful, and only when Valid is true.
type Value struct {
	Kind  Kind
	Valid bool
	U64   uint64
	F64   float64
	Bool  bool
	Str   string
}

// U64Value returns a valid U64 value.
func U64Value(v uint64) Value { return Value{Kind: KindU64, Valid: true, U64: v} }

// F64Value returns a valid F64 value.
func F64Value(v float64) Value { return Value{Kind: KindF64, Valid: true, F64: v} }

// BoolValue returns a valid Bool value.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Valid: true, Bool: v} }

// StringValue returns a valid String value.
func StringValue(v string) Value { return Value{Kind: KindString, Valid: true, Str: v} }

// Null returns the null value of kind k.
func Null(k Kind) Value { return Value{Kind: k} }

// Any returns the payload as a Go value, or nil when null.
func (v Value) Any() any {
	if !v.Valid {
		return nil
	}
	switch v.Kind {
	case KindU64:
		return v.U64
	case KindF64:
		return v.F64
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	}
	return nil
}

func (v Value) String() string {
	if !v.Valid {
		return "NULL"
	}
	return fmt.Sprint(v.Any())
}

// Coerce decodes a driver value into the canonical Value for dt. A nil raw
// value is NULL, which is rejected for non-nullable types.
func Coerce(dt DataType, raw any) (Value, error) {
	if raw == nil {
		if !dt.Nullable {
			return Value{}, errors.Newf(errors.ErrorTypeData, "NULL in non-nullable %s column", dt)
		}
		return Null(dt.Kind), nil
	}

	switch dt.Kind {
	case KindU64:
		u, err := toU64(raw)
		if err != nil {
			return Value{}, err
		}
		return U64Value(u), nil
	case KindF64:
		f, err := toF64(raw)
		if err != nil {
			return Value{}, err
		}
		return F64Value(f), nil
	case KindBool:
		b, err := toBool(raw)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case KindString:
		return StringValue(toString(raw)), nil
	}
	return Value{}, errors.Newf(errors.ErrorTypeUnknownType, "cannot decode into %s", dt)
}

func toU64(raw any) (uint64, error) {
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint:
		return uint64(v), nil
	case int64:
		return signedToU64(v)
	case int32:
		return signedToU64(int64(v))
	case int16:
		return signedToU64(int64(v))
	case int8:
		return signedToU64(int64(v))
	case int:
		return signedToU64(int64(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		return floatToU64(v)
	case float32:
		return floatToU64(float64(v))
	case []byte:
		return parseU64(string(v))
	case string:
		return parseU64(v)
	}
	return 0, errors.Newf(errors.ErrorTypeData, "cannot decode %T as u64", raw)
}

func signedToU64(v int64) (uint64, error) {
	if v < 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "negative value %d in u64 column", v)
	}
	return uint64(v), nil
}

func floatToU64(v float64) (uint64, error) {
	if v < 0 || v != math.Trunc(v) || v > math.MaxUint64 {
		return 0, errors.Newf(errors.ErrorTypeData, "value %v is not representable as u64", v)
	}
	return uint64(v), nil
}

func parseU64(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	u, err := strconv.ParseUint(s, 10, 64)
	if err == nil {
		return u, nil
	}
	// NUMBER(38,0) style text such as "42.000"
	if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
		return floatToU64(f)
	}
	return 0, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("cannot parse %q as u64", s))
}

func toF64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case *big.Rat:
		f, _ := v.Float64()
		return f, nil
	case []byte:
		return parseF64(string(v))
	case string:
		return parseF64(v)
	}
	return 0, errors.Newf(errors.ErrorTypeData, "cannot decode %T as f64", raw)
}

func parseF64(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("cannot parse %q as f64", s))
	}
	return f, nil
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int:
		return v != 0, nil
	case uint64:
		return v != 0, nil
	case uint8:
		return v != 0, nil
	case []byte:
		// MySQL BIT(1) arrives as a single raw byte
		if len(v) == 1 && v[0] <= 1 {
			return v[0] == 1, nil
		}
		return parseBool(string(v))
	case string:
		return parseBool(v)
	}
	return false, errors.Newf(errors.ErrorTypeData, "cannot decode %T as bool", raw)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "y", "yes", "on":
		return true, nil
	case "f", "false", "0", "n", "no", "off":
		return false, nil
	}
	return false, errors.Newf(errors.ErrorTypeData, "cannot parse %q as bool", s)
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *big.Rat:
		return v.FloatString(9)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(raw)
}
