package config

import (
	"reflect"
)

// DeepMerge copies the non-zero fields of src over dst. Both must be pointers
// to the same type. Nested structs and maps merge field by field, non-empty
// slices replace, and nil pointers in src are skipped.
func DeepMerge(dst, src any) {
	dstVal := reflect.ValueOf(dst)
	srcVal := reflect.ValueOf(src)

	if dstVal.Kind() != reflect.Ptr || srcVal.Kind() != reflect.Ptr {
		return
	}
	if dstVal.IsNil() || srcVal.IsNil() || dstVal.Type() != srcVal.Type() {
		return
	}

	mergeValues(dstVal.Elem(), srcVal.Elem())
}

func mergeValues(dst, src reflect.Value) {
	if !dst.CanSet() || !src.IsValid() {
		return
	}

	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			mergeValues(dst.Field(i), src.Field(i))
		}
	case reflect.Map:
		mergeMap(dst, src)
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	case reflect.Ptr:
		mergePointer(dst, src)
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}

func mergePointer(dst, src reflect.Value) {
	if src.IsNil() {
		return
	}
	if dst.IsNil() || src.Elem().Kind() != reflect.Struct {
		dst.Set(src)
		return
	}
	mergeValues(dst.Elem(), src.Elem())
}

func mergeMap(dst, src reflect.Value) {
	if src.IsNil() {
		return
	}

	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}

	iter := src.MapRange()
	for iter.Next() {
		key, srcVal := iter.Key(), iter.Value()
		dstVal := dst.MapIndex(key)

		if dstVal.IsValid() && srcVal.Kind() == reflect.Struct {
			merged := reflect.New(dstVal.Type()).Elem()
			merged.Set(dstVal)
			mergeValues(merged, srcVal)
			dst.SetMapIndex(key, merged)
			continue
		}
		dst.SetMapIndex(key, srcVal)
	}
}
