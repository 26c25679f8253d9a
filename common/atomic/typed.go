package atomic

import "sync/atomic"

// TypedValue holds a T behind an atomic pointer. The zero value loads as the zero T.
type TypedValue[T any] atomic.Pointer[T]

func (t *TypedValue[T]) Load() T {
	value := (*atomic.Pointer[T])(t).Load()
	if value == nil {
		var defaultValue T
		return defaultValue
	}
	return *value
}

func (t *TypedValue[T]) Store(value T) {
	(*atomic.Pointer[T])(t).Store(&value)
}

func (t *TypedValue[T]) Swap(new T) T {
	old := (*atomic.Pointer[T])(t).Swap(&new)
	if old == nil {
		var defaultValue T
		return defaultValue
	}
	return *old
}

// Update applies fn to the current value until the swap wins against concurrent writers.
func (t *TypedValue[T]) Update(fn func(old T) (T, error)) (T, error) {
	pointer := (*atomic.Pointer[T])(t)
	for {
		oldPointer := pointer.Load()
		var old T
		if oldPointer != nil {
			old = *oldPointer
		}
		newValue, err := fn(old)
		if err != nil {
			return old, err
		}
		if pointer.CompareAndSwap(oldPointer, &newValue) {
			return newValue, nil
		}
	}
}
