package classes

import "reflect"

// RecordOf unwraps a reference-field accessor result into a Record.
// Accessors return concrete pointer types, so a nil *T arrives as a
// non-nil interface; both that and a plain nil count as absent.
func RecordOf(raw any) (Record, bool) {
	if raw == nil {
		return nil, false
	}
	rec, ok := raw.(Record)
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false
	}
	return rec, true
}
