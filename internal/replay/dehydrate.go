package replay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/telegram-cli/telegram-cli/internal/wire"
)

// markerTagKey is the discriminator field spec.md §4.8's fixture contract
// uses to tag a value that a float64-based JSON reader could not
// round-trip losslessly: {"__tgcli_type": "bigint"|"bytes"|"date", "value": ...}.
const markerTagKey = "__tgcli_type"

const (
	markerBigInt = "bigint"
	markerBytes  = "bytes"
	markerDate   = "date"
)

// maxSafeInteger is the largest integer magnitude a float64-based JSON
// reader represents exactly (2^53); wire.BigInt values and any other
// integer past this need the bigint marker to survive a round trip
// through such a reader.
const maxSafeInteger = 1 << 53

var (
	bigIntType = reflect.TypeOf(wire.BigInt{})
	timeType   = reflect.TypeOf(time.Time{})
)

// dehydrate walks v — a request or response value handed to the
// RemoteClient — and returns an equivalent tree of map[string]any /
// []any / primitives with every bigint/bytes/date leaf replaced by its
// tagged marker shape, ready for json.Marshal (spec.md §4.8). wire.BigInt
// is the one type this module already carries such values in; the
// reflect walk also catches any other oversized integer, raw byte slice,
// or time.Time a live response might carry, so a fixture stays portable
// to a non-Go replay consumer.
func dehydrate(v any) any {
	if v == nil {
		return nil
	}
	return dehydrateValue(reflect.ValueOf(v))
}

func dehydrateValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return dehydrateValue(rv.Elem())
	}

	switch {
	case rv.Type() == bigIntType:
		b := rv.Interface().(wire.BigInt)
		raw := b.Raw
		if raw == "" {
			raw = fmt.Sprintf("%d", b.Value)
		}
		return marker(markerBigInt, raw)
	case rv.Type() == timeType:
		t := rv.Interface().(time.Time)
		return marker(markerDate, t.UTC().Format(time.RFC3339Nano))
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
		if rv.IsNil() {
			return nil
		}
		return marker(markerBytes, base64.StdEncoding.EncodeToString(rv.Bytes()))
	}

	switch rv.Kind() {
	case reflect.Struct:
		return dehydrateStruct(rv)
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = dehydrateValue(iter.Value())
		}
		return out
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = dehydrateValue(rv.Index(i))
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > maxSafeInteger || n < -maxSafeInteger {
			return marker(markerBigInt, fmt.Sprintf("%d", n))
		}
		return n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > maxSafeInteger {
			return marker(markerBigInt, fmt.Sprintf("%d", n))
		}
		return n
	default:
		return rv.Interface()
	}
}

func dehydrateStruct(rv reflect.Value) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name, omitempty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		out[name] = dehydrateValue(fv)
	}
	return out
}

func jsonFieldName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return f.Name, false, false
	}
	parts := bytes.Split([]byte(tag), []byte(","))
	name = string(parts[0])
	if name == "" {
		name = f.Name
	}
	for _, p := range parts[1:] {
		if string(p) == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).IsZero()
		}
	}
	return false
}

func marker(tag, value string) map[string]any {
	return map[string]any{markerTagKey: tag, "value": value}
}

// rehydrateJSON is dehydrate's inverse on the read path (spec.md §4.8): it
// walks a fixture's raw JSON, replacing every tagged marker with the
// plain JSON value its destination type expects — an arbitrary-precision
// number literal for bigint (via json.Number, so no float64 ever touches
// it), a base64 string for bytes, an RFC3339 string for date — both of
// which are exactly what []byte's and time.Time's own UnmarshalJSON
// already accept — then re-marshals the result for json.Unmarshal into
// the destination type.
func rehydrateJSON(data json.RawMessage) (json.RawMessage, error) {
	if len(data) == 0 || string(data) == "null" {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("rehydrate: decode: %w", err)
	}
	out, err := json.Marshal(rehydrateValue(generic))
	if err != nil {
		return nil, fmt.Errorf("rehydrate: re-encode: %w", err)
	}
	return out, nil
}

func rehydrateValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if tag, ok := val[markerTagKey]; ok {
			value, _ := val["value"].(string)
			switch tag {
			case markerBigInt:
				return json.Number(value)
			case markerBytes, markerDate:
				return value
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = rehydrateValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = rehydrateValue(item)
		}
		return out
	default:
		return val
	}
}
