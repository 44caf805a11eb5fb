// Package admission mantiene el conjunto de direcciones ya comprometidas a
// compra, compartido entre detector, scorer y engine.
package admission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keybot/internal/metrics"
)

// DefaultCapacity es el tamaño máximo antes del vaciado completo.
const DefaultCapacity = 20

// Set es un conjunto acotado de direcciones admitidas.
//
// Al superar la capacidad se vacía entero: una dirección liberada puede volver
// a evaluarse y comprarse de nuevo. Con ttl > 0 las entradas además caducan.
type Set struct {
	mu       sync.Mutex
	entries  map[common.Address]time.Time
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// New crea un Set. capacity <= 0 usa DefaultCapacity; ttl 0 desactiva la caducidad.
func New(capacity int, ttl time.Duration) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		entries:  make(map[common.Address]time.Time),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add inserta addr (idempotente) y aplica la política de capacidad.
func (s *Set) Add(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[addr] = s.now()
	s.resetIfOverLocked()
	metrics.AdmissionSize.Set(float64(len(s.entries)))
}

// AddIfAbsent reclama addr de forma atómica. Devuelve false si ya estaba.
// No aplica la política de capacidad: el llamador reclama un lote completo y
// luego llama a ResetIfOverCapacity.
func (s *Set) AddIfAbsent(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containsLocked(addr) {
		return false
	}
	s.entries[addr] = s.now()
	metrics.AdmissionSize.Set(float64(len(s.entries)))
	return true
}

// Remove libera addr. No-op si no estaba.
func (s *Set) Remove(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, addr)
	metrics.AdmissionSize.Set(float64(len(s.entries)))
}

// Contains informa si addr está admitida (y no caducada).
func (s *Set) Contains(addr common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containsLocked(addr)
}

// Len devuelve el número de entradas vigentes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.entries)
}

// ResetIfOverCapacity vacía el conjunto si supera la capacidad.
// Devuelve true si hubo vaciado.
func (s *Set) ResetIfOverCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := s.resetIfOverLocked()
	metrics.AdmissionSize.Set(float64(len(s.entries)))
	return reset
}

// Clear vacía el conjunto sin condiciones.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.entries)
	metrics.AdmissionSize.Set(0)
}

func (s *Set) containsLocked(addr common.Address) bool {
	added, ok := s.entries[addr]
	if !ok {
		return false
	}
	if s.ttl > 0 && s.now().Sub(added) >= s.ttl {
		delete(s.entries, addr)
		return false
	}
	return true
}

func (s *Set) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	now := s.now()
	for addr, added := range s.entries {
		if now.Sub(added) >= s.ttl {
			delete(s.entries, addr)
		}
	}
}

func (s *Set) resetIfOverLocked() bool {
	s.expireLocked()
	if len(s.entries) <= s.capacity {
		return false
	}
	slog.Info("admission: capacity exceeded, flushing", "size", len(s.entries), "capacity", s.capacity)
	clear(s.entries)
	metrics.AdmissionResets.Inc()
	return true
}
