// Package mutex candados por llave sobre un sync.Map con conteo de
// referencias; las entradas sin usuarios se eliminan de la tabla.
package mutex

import (
	"sync"
	"sync/atomic"
)

// marca de entrada muerta: solo se alcanza por CAS desde cero, jamás
// por un holder activo.
const dead = -1 << 30

type entry struct {
	mu   sync.Mutex
	refs int32
}

type KeyedMutex[K comparable] struct {
	table sync.Map // map[K]*entry
}

// get entrega la entrada viva de la llave con una referencia tomada; la
// referencia se mantiene mientras el candado esté adquirido y se libera
// en put.
func (m *KeyedMutex[K]) get(key K) *entry {
	for {
		v, _ := m.table.LoadOrStore(key, &entry{})
		e := v.(*entry)
		if atomic.AddInt32(&e.refs, 1) > 0 {
			return e
		}
		// entrada marcada muerta por un put concurrente; deshacer y
		// reintentar sobre una entrada fresca
		atomic.AddInt32(&e.refs, -1)
		m.table.CompareAndDelete(key, e)
	}
}

func (m *KeyedMutex[K]) put(key K, e *entry) {
	if atomic.AddInt32(&e.refs, -1) == 0 {
		// sin usuarios: marcar muerta y retirarla; si alguien alcanzó a
		// resucitarla el CAS falla y la entrada sigue viva
		if atomic.CompareAndSwapInt32(&e.refs, 0, dead) {
			m.table.CompareAndDelete(key, e)
		}
	}
}

func (m *KeyedMutex[K]) Lock(key K) {
	e := m.get(key)
	e.mu.Lock()
}

// Unlock libera el candado y la referencia tomada en Lock; la última
// referencia retira la entrada de la tabla.
func (m *KeyedMutex[K]) Unlock(key K) {
	v, ok := m.table.Load(key)
	if !ok {
		panic("mutex: unlock of unlocked key")
	}
	e := v.(*entry)
	e.mu.Unlock()
	m.put(key, e)
}

// TryLock intenta adquirir sin bloquear; false significa que otro dueño
// sigue activo sobre la llave.
func (m *KeyedMutex[K]) TryLock(key K) bool {
	e := m.get(key)
	if e.mu.TryLock() {
		return true
	}
	m.put(key, e)
	return false
}
