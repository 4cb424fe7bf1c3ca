package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CanonicalizeIntentParams deterministically serializes a JSON-like value:
// object keys are recursively sorted, arrays preserve order, big.Int becomes
// a string, time.Time serializes via its ISO form, and non-plain values are
// silently dropped when nested. Returns ok=false for circular or
// unserializable roots.
func CanonicalizeIntentParams(v any) (string, bool) {
	c := &canonicalizer{seen: make(map[uintptr]bool)}
	out, include := c.write(reflect.ValueOf(v))
	if c.circular || !include {
		return "", false
	}
	return out, true
}

// GoalKey derives the dedup identity of a goal binding from its type and
// canonicalized intent params.
func GoalKey(goalType string, intentParams any) (string, bool) {
	canonical, ok := CanonicalizeIntentParams(intentParams)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s::%s", goalType, canonical), true
}

type canonicalizer struct {
	seen     map[uintptr]bool
	circular bool
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	bigIntType = reflect.TypeOf(big.Int{})
)

// write returns the canonical serialization of v and whether the value is
// serializable at all. Unserializable values are dropped by the caller:
// omitted from objects, nulled in arrays.
func (c *canonicalizer) write(v reflect.Value) (string, bool) {
	if c.circular {
		return "", false
	}
	if !v.IsValid() {
		return "null", true
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return "null", true
		}
		if v.Kind() == reflect.Pointer {
			ptr := v.Pointer()
			if c.seen[ptr] {
				c.circular = true
				return "", false
			}
			c.seen[ptr] = true
			defer delete(c.seen, ptr)
		}
		return c.write(v.Elem())
	}

	t := v.Type()

	switch t {
	case timeType:
		return strconv.Quote(v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)), true
	case bigIntType:
		b := v.Interface().(big.Int)
		return strconv.Quote(b.String()), true
	}

	// Values with custom JSON behavior serialize through it, provided the
	// result is itself stable JSON.
	if v.CanInterface() {
		if m, ok := v.Interface().(json.Marshaler); ok {
			data, err := m.MarshalJSON()
			if err != nil {
				return "", false
			}
			return string(data), true
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), true

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", false
		}
		data, err := json.Marshal(f)
		if err != nil {
			return "", false
		}
		return string(data), true

	case reflect.String:
		data, err := json.Marshal(v.String())
		if err != nil {
			return "", false
		}
		return string(data), true

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				return "null", true
			}
			ptr := v.Pointer()
			if c.seen[ptr] {
				c.circular = true
				return "", false
			}
			c.seen[ptr] = true
			defer delete(c.seen, ptr)
		}
		var sb strings.Builder
		sb.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				sb.WriteByte(',')
			}
			elem, include := c.write(v.Index(i))
			if c.circular {
				return "", false
			}
			if !include {
				// Arrays preserve order; a dropped element becomes null
				// rather than shifting its successors.
				elem = "null"
			}
			sb.WriteString(elem)
		}
		sb.WriteByte(']')
		return sb.String(), true

	case reflect.Map:
		if v.IsNil() {
			return "null", true
		}
		if t.Key().Kind() != reflect.String {
			return "", false
		}
		ptr := v.Pointer()
		if c.seen[ptr] {
			c.circular = true
			return "", false
		}
		c.seen[ptr] = true
		defer delete(c.seen, ptr)

		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)

		var sb strings.Builder
		sb.WriteByte('{')
		first := true
		for _, k := range keys {
			val, include := c.write(v.MapIndex(reflect.ValueOf(k)))
			if c.circular {
				return "", false
			}
			if !include {
				continue // dropped values are omitted from objects
			}
			if !first {
				sb.WriteByte(',')
			}
			first = false
			kq, _ := json.Marshal(k)
			sb.Write(kq)
			sb.WriteByte(':')
			sb.WriteString(val)
		}
		sb.WriteByte('}')
		return sb.String(), true

	default:
		// Structs without custom JSON, funcs, chans, complex values: not
		// plain data, dropped.
		return "", false
	}
}
