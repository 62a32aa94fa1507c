package row

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type is a semantic type of a field value.
type Type uint8

// Supported value types. Every type accepts nil as a null value.
const (
	TypeNone      Type = iota
	TypeInteger        // int64
	TypeNumber         // float64
	TypeString         // string
	TypeBoolean        // bool
	TypeDate           // time.Time
	TypeTimestamp      // time.Time
	TypeBigNumber      // decimal.Decimal
	TypeBinary         // []byte
)

// DateLayout is used to parse and format date values.
const DateLayout = "2006-01-02"

var typeNames = [...]string{
	TypeNone:      "None",
	TypeInteger:   "Integer",
	TypeNumber:    "Number",
	TypeString:    "String",
	TypeBoolean:   "Boolean",
	TypeDate:      "Date",
	TypeTimestamp: "Timestamp",
	TypeBigNumber: "BigNumber",
	TypeBinary:    "Binary",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// ParseType returns the type with provided name. Names are case
// insensitive.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(name, s) {
			return Type(i), nil
		}
	}
	return TypeNone, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Check returns true if v is a valid value of type t.
func (t Type) Check(v interface{}) bool {
	if v == nil {
		return true
	}
	switch t {
	case TypeInteger:
		_, ok := v.(int64)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeDate, TypeTimestamp:
		_, ok := v.(time.Time)
		return ok
	case TypeBigNumber:
		_, ok := v.(decimal.Decimal)
		return ok
	case TypeBinary:
		_, ok := v.([]byte)
		return ok
	}
	return false
}

// Parse converts text into a value of type t. Empty string is parsed as
// nil for every type except String.
func (t Type) Parse(s string) (interface{}, error) {
	if s == "" && t != TypeString {
		return nil, nil
	}
	var (
		v   interface{}
		err error
	)
	switch t {
	case TypeInteger:
		v, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case TypeNumber:
		v, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	case TypeString:
		v = s
	case TypeBoolean:
		v, err = strconv.ParseBool(strings.TrimSpace(s))
	case TypeDate:
		v, err = time.Parse(DateLayout, strings.TrimSpace(s))
	case TypeTimestamp:
		v, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	case TypeBigNumber:
		v, err = decimal.NewFromString(strings.TrimSpace(s))
	case TypeBinary:
		v, err = base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %v %q: %w", t, s, err)
	}
	return v, nil
}

// Format converts a value of type t into text. Nil is formatted as empty
// string.
func (t Type) Format(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if t == TypeDate {
			return val.Format(DateLayout)
		}
		return val.Format(time.RFC3339Nano)
	case decimal.Decimal:
		return val.String()
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	}
	return fmt.Sprint(v)
}

// Compare orders two values of type t. It returns -1, 0 or 1. Nil is
// ordered before any other value.
func Compare(t Type, a, b interface{}) (int, error) {
	if !t.Check(a) || !t.Check(b) {
		return 0, fmt.Errorf("%w: cannot compare %T and %T as %v", ErrType, a, b, t)
	}
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	switch t {
	case TypeInteger:
		return compareOrdered(a.(int64), b.(int64)), nil
	case TypeNumber:
		return compareOrdered(a.(float64), b.(float64)), nil
	case TypeString:
		return strings.Compare(a.(string), b.(string)), nil
	case TypeBoolean:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	case TypeDate, TypeTimestamp:
		return a.(time.Time).Compare(b.(time.Time)), nil
	case TypeBigNumber:
		return a.(decimal.Decimal).Cmp(b.(decimal.Decimal)), nil
	case TypeBinary:
		return bytes.Compare(a.([]byte), b.([]byte)), nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownType, t)
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
