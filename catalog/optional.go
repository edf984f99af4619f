package catalog

import "encoding/json"

// Optional distinguishes a field that was provided (possibly with its zero
// value, meaning "clear it") from a field that was left out.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a provided Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it was provided.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the field was provided.
func (o Optional[T]) IsSet() bool { return o.set }

// IsZero lets `omitzero` drop absent fields when encoding.
func (o Optional[T]) IsZero() bool { return !o.set }

// Apply overwrites *dst when the field was provided.
func (o Optional[T]) Apply(dst *T) {
	if o.set {
		*dst = o.value
	}
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}
