package detector

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxTracked acota la lista de candidatos abiertos.
const DefaultMaxTracked = 200

// Tracker es la lista de candidatos abiertos: persiste entre ciclos, mantiene
// el orden de primera aparición y excluye lo que ya está admitido.
// Es seguro para ciclos solapados.
type Tracker struct {
	mu    sync.Mutex
	order []common.Address
	index map[common.Address]struct{}
	max   int
}

// NewTracker crea un Tracker con como mucho max direcciones (<= 0 usa el default).
func NewTracker(max int) *Tracker {
	if max <= 0 {
		max = DefaultMaxTracked
	}
	return &Tracker{
		index: make(map[common.Address]struct{}),
		max:   max,
	}
}

// Merge deja la lista en (anterior ∪ fresh) \ admitidas y devuelve una copia
// junto con el número de direcciones nuevas. Al superar el máximo se
// descartan las más antiguas.
func (t *Tracker) Merge(fresh []common.Address, admitted func(common.Address) bool) ([]common.Address, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if admitted != nil {
		kept := t.order[:0]
		for _, a := range t.order {
			if admitted(a) {
				delete(t.index, a)
				continue
			}
			kept = append(kept, a)
		}
		t.order = kept
	}

	added := 0
	for _, a := range fresh {
		if _, ok := t.index[a]; ok {
			continue
		}
		if admitted != nil && admitted(a) {
			continue
		}
		t.index[a] = struct{}{}
		t.order = append(t.order, a)
		added++
	}

	if over := len(t.order) - t.max; over > 0 {
		for _, a := range t.order[:over] {
			delete(t.index, a)
		}
		t.order = append(t.order[:0:0], t.order[over:]...)
	}

	out := make([]common.Address, len(t.order))
	copy(out, t.order)
	return out, added
}

// Len devuelve el tamaño actual de la lista.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Clear vacía la lista.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	clear(t.index)
}

// MergeSources une los candidatos de logs y de pending, sin duplicados y sin
// los ya admitidos. Los de logs van primero.
func MergeSources(logs, pending []common.Address, admitted func(common.Address) bool) []common.Address {
	seen := make(map[common.Address]struct{}, len(logs)+len(pending))
	out := make([]common.Address, 0, len(logs)+len(pending))
	for _, src := range [][]common.Address{logs, pending} {
		for _, a := range src {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			if admitted != nil && admitted(a) {
				continue
			}
			out = append(out, a)
		}
	}
	return out
}
