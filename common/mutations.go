package common

import "fmt"

// Mutations is a buffer of uncommitted set/delete mutations. The order of iteration is not defined
type Mutations struct {
	set                 map[string][]byte
	del                 map[string]struct{}
	mustNoDoubleBooking func(error) // is called on double setting and double deleting
}

func NewMutations(doubleBookingCallback ...func(error)) *Mutations {
	ret := &Mutations{
		set: make(map[string][]byte),
		del: make(map[string]struct{}),
	}
	if len(doubleBookingCallback) > 0 {
		ret.mustNoDoubleBooking = doubleBookingCallback[0]
	}
	return ret
}

func NewMutationsMustNoDoubleBooking() *Mutations {
	return NewMutations(func(err error) {
		panic(err)
	})
}

func (m *Mutations) Set(k, v []byte) {
	ks := string(k)
	if m.mustNoDoubleBooking != nil {
		if len(v) > 0 {
			if _, already := m.set[ks]; already {
				m.mustNoDoubleBooking(fmt.Errorf("repetitive SET mutation. The key '%s' was already set", ks))
			} else if _, already = m.del[ks]; already {
				m.mustNoDoubleBooking(fmt.Errorf("repetitive SET mutation. The key '%s' was already deleted", ks))
			}
		} else {
			if _, already := m.del[ks]; already {
				m.mustNoDoubleBooking(fmt.Errorf("repetitive DEL mutation. The key '%s' was already deleted", ks))
			}
		}
	}
	if len(v) > 0 {
		delete(m.del, ks)
		m.set[ks] = v
	} else {
		delete(m.set, ks)
		m.del[ks] = struct{}{}
	}
}

// Iterate iterates set mutations first, then deletions (with v == nil). The third parameter is true for deletions
func (m *Mutations) Iterate(fun func(k []byte, v []byte, wasDeleted bool) bool) {
	for k, v := range m.set {
		if !fun([]byte(k), v, false) {
			return
		}
	}
	for k := range m.del {
		if !fun([]byte(k), nil, true) {
			return
		}
	}
}

// Write flushes the buffered mutations into the writer
func (m *Mutations) Write(w KVWriter) {
	for k, v := range m.set {
		w.Set([]byte(k), v)
	}
	for k := range m.del {
		w.Set([]byte(k), nil)
	}
}

func (m *Mutations) LenSet() int {
	return len(m.set)
}

func (m *Mutations) LenDel() int {
	return len(m.del)
}
