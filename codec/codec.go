// Package codec implements the structured-clone-equivalent value
// transport used uniformly across every transport: every argument list,
// every result, every thrown value, and the workerData blob is encoded
// with Encode before it crosses a worker boundary and rebuilt with
// Decode on the other side.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"time"
)

// Wire is the transport-neutral encoding of a permitted value. It is
// itself JSON-marshalable so it can ride inside a protocol.CallRequest
// or protocol.CallResponse without a second encoding pass.
type Wire struct {
	Kind  string `json:"k"`
	Value any    `json:"v,omitempty"`
}

// Kinds of the permitted value set. Functions and channels are never
// assigned a kind: Encode does not drop them but fails with
// ErrUnsupportedValue, including when one is nested in a struct field,
// map or slice.
const (
	KindNull    = "null"
	KindBool    = "bool"
	KindNumber  = "num"
	KindString  = "str"
	KindDate    = "date"
	KindRegexp  = "regexp"
	KindBytes   = "bytes"
	KindArray   = "array"
	KindObject  = "object"
	KindMap     = "map"
	KindSet     = "set"
	KindError   = "error"
	KindBackref = "backref"
)

// ErrUnsupportedValue is returned for values outside the permitted set
// (functions, channels, unsafe pointers, etc).
var ErrUnsupportedValue = errors.New("codec: value is not in the permitted transport set")

// encodeState tracks the pointers/maps/slices already visited on the
// current path so cycles can be broken per spec.md §4.2: a back-edge is
// replaced by a KindBackref wire value and is not re-linked on decode.
type encodeState struct {
	seen           map[uintptr]bool
	nativeErrorsOK bool
}

// Encode converts v into its Wire form. nativeErrorsOK mirrors spec.md's
// encode(v, nativeErrorsOK) signature: when true, error values may be
// encoded with their concrete Go type name preserved; when false they
// degrade to a plain name+message pair.
func Encode(v any, nativeErrorsOK bool) (Wire, error) {
	st := &encodeState{seen: make(map[uintptr]bool), nativeErrorsOK: nativeErrorsOK}
	return st.encode(reflect.ValueOf(v))
}

func (st *encodeState) encode(rv reflect.Value) (Wire, error) {
	if !rv.IsValid() {
		return Wire{Kind: KindNull}, nil
	}

	switch x := rv.Interface().(type) {
	case nil:
		return Wire{Kind: KindNull}, nil
	case time.Time:
		return Wire{Kind: KindDate, Value: x.UTC().Format(time.RFC3339Nano)}, nil
	case *regexp.Regexp:
		if x == nil {
			return Wire{Kind: KindNull}, nil
		}
		return Wire{Kind: KindRegexp, Value: x.String()}, nil
	case []byte:
		return Wire{Kind: KindBytes, Value: base64.StdEncoding.EncodeToString(x)}, nil
	case *Set:
		if x == nil {
			return Wire{Kind: KindNull}, nil
		}
		items := x.Values()
		out := make([]Wire, len(items))
		for i, it := range items {
			w, err := st.encode(reflect.ValueOf(it))
			if err != nil {
				return Wire{}, err
			}
			out[i] = w
		}
		return Wire{Kind: KindSet, Value: out}, nil
	case error:
		return st.encodeError(x)
	}

	switch rv.Kind() {
	case reflect.Invalid:
		return Wire{Kind: KindNull}, nil
	case reflect.Bool:
		return Wire{Kind: KindBool, Value: rv.Bool()}, nil
	case reflect.String:
		return Wire{Kind: KindString, Value: rv.String()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Wire{Kind: KindNumber, Value: float64(rv.Int())}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Wire{Kind: KindNumber, Value: float64(rv.Uint())}, nil
	case reflect.Float32, reflect.Float64:
		return encodeFloat(rv.Float()), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Wire{Kind: KindNull}, nil
		}
		if rv.Kind() == reflect.Ptr {
			ptr := rv.Pointer()
			if st.seen[ptr] {
				return Wire{Kind: KindBackref}, nil
			}
			st.seen[ptr] = true
			defer delete(st.seen, ptr)
			return st.encode(rv.Elem())
		}
		return st.encode(rv.Elem())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Wire{Kind: KindNull}, nil
		}
		ptr := uintptr(0)
		if rv.Kind() == reflect.Slice {
			ptr = rv.Pointer()
			if ptr != 0 {
				if st.seen[ptr] {
					return Wire{Kind: KindBackref}, nil
				}
				st.seen[ptr] = true
				defer delete(st.seen, ptr)
			}
		}
		out := make([]Wire, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			w, err := st.encode(rv.Index(i))
			if err != nil {
				return Wire{}, err
			}
			out[i] = w
		}
		return Wire{Kind: KindArray, Value: out}, nil
	case reflect.Map:
		if rv.IsNil() {
			return Wire{Kind: KindNull}, nil
		}
		ptr := rv.Pointer()
		if st.seen[ptr] {
			return Wire{Kind: KindBackref}, nil
		}
		st.seen[ptr] = true
		defer delete(st.seen, ptr)
		return st.encodeMap(rv)
	case reflect.Struct:
		return st.encodeStruct(rv)
	default:
		return Wire{}, fmt.Errorf("%w: kind %s", ErrUnsupportedValue, rv.Kind())
	}
}

// encodeFloat preserves NaN and ±Infinity exactly, per spec.md §4.2.
func encodeFloat(f float64) Wire {
	switch {
	case math.IsNaN(f):
		return Wire{Kind: KindNumber, Value: "NaN"}
	case math.IsInf(f, 1):
		return Wire{Kind: KindNumber, Value: "+Infinity"}
	case math.IsInf(f, -1):
		return Wire{Kind: KindNumber, Value: "-Infinity"}
	default:
		return Wire{Kind: KindNumber, Value: f}
	}
}

func (st *encodeState) encodeMap(rv reflect.Value) (Wire, error) {
	type entry struct{ Key, Val Wire }
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		kw, err := st.encode(iter.Key())
		if err != nil {
			return Wire{}, err
		}
		vw, err := st.encode(iter.Value())
		if err != nil {
			return Wire{}, err
		}
		entries = append(entries, entry{kw, vw})
	}
	// Map iteration order is random; sort by the encoded key so repeated
	// encodes of the same map produce the same wire form.
	sort.Slice(entries, func(i, j int) bool {
		return fmt.Sprint(entries[i].Key) < fmt.Sprint(entries[j].Key)
	})
	// A Go struct is the plain-Object analogue (see encodeStruct); a Go
	// map is always the Map analogue, except map[K]struct{} which is the
	// idiomatic Go spelling of a Set.
	pairs := make([][2]Wire, len(entries))
	for i, e := range entries {
		pairs[i] = [2]Wire{e.Key, e.Val}
	}
	if isSetValue(rv.Type()) {
		keys := make([]Wire, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		return Wire{Kind: KindSet, Value: keys}, nil
	}
	return Wire{Kind: KindMap, Value: pairs}, nil
}

func isSetValue(t reflect.Type) bool {
	return t.Elem().Kind() == reflect.Struct && t.Elem().NumField() == 0
}

func (st *encodeState) encodeStruct(rv reflect.Value) (Wire, error) {
	t := rv.Type()
	obj := make(map[string]Wire, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("codec")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		w, err := st.encode(rv.Field(i))
		if err != nil {
			return Wire{}, err
		}
		obj[name] = w
	}
	return Wire{Kind: KindObject, Value: obj}, nil
}

func (st *encodeState) encodeError(err error) (Wire, error) {
	name := "Error"
	if st.nativeErrorsOK {
		name = reflect.TypeOf(err).String()
	}
	return Wire{Kind: KindError, Value: map[string]any{
		"name":    name,
		"message": err.Error(),
	}}, nil
}
