package starbind

import (
	"fmt"
	"math"
	"reflect"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// toStarlarkValue converts a value returned by the intrinsics into a
// starlark value. Structs such as intrinsic.Registers and
// intrinsic.Topology become starlark structs that keep their Go field
// names, so scripts can write cpuid(1).EAX.
func toStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case error:
		return starlark.String(v.Error())
	case fmt.Stringer:
		return starlark.String(v.String())
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return starlark.None
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool:
		return starlark.Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint())
	case reflect.String:
		return starlark.String(rv.String())
	case reflect.Slice, reflect.Array:
		elems := make([]starlark.Value, rv.Len())
		for i := range elems {
			elems[i] = toStarlarkValue(rv.Index(i).Interface())
		}
		return starlark.NewList(elems)
	case reflect.Struct:
		typ := rv.Type()
		fields := make(starlark.StringDict, typ.NumField())
		for i := 0; i < typ.NumField(); i++ {
			if f := typ.Field(i); f.IsExported() {
				fields[f.Name] = toStarlarkValue(rv.Field(i).Interface())
			}
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, fields)
	}
	return starlark.String(fmt.Sprint(v))
}

// setArg stores the argument val of a builtin into dst. None leaves dst
// unchanged. Integers that do not fit dst are rejected instead of being
// truncated.
func setArg(val starlark.Value, dst interface{}, name string) error {
	if val == starlark.None {
		return nil
	}
	converr := func() error {
		return fmt.Errorf("argument %s: can not convert %s %s to %s", name, val.Type(), val, reflect.TypeOf(dst).Elem())
	}
	switch dst := dst.(type) {
	case *string:
		s, ok := starlark.AsString(val)
		if !ok {
			return converr()
		}
		*dst = s
	case *bool:
		b, ok := val.(starlark.Bool)
		if !ok {
			return converr()
		}
		*dst = bool(b)
	case *uint32:
		n, ok := asUint64(val)
		if !ok || n > math.MaxUint32 {
			return converr()
		}
		*dst = uint32(n)
	case *uint64:
		n, ok := asUint64(val)
		if !ok {
			return converr()
		}
		*dst = n
	case *int:
		i, ok := val.(starlark.Int)
		if !ok {
			return converr()
		}
		n, ok := i.Int64()
		if !ok || n < math.MinInt || n > math.MaxInt {
			return converr()
		}
		*dst = int(n)
	default:
		return fmt.Errorf("argument %s: unsupported destination %T", name, dst)
	}
	return nil
}

func asUint64(val starlark.Value) (uint64, bool) {
	i, ok := val.(starlark.Int)
	if !ok {
		return 0, false
	}
	return i.Uint64()
}
