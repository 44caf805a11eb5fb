package detector

import (
	"log/slog"
	"sync"
)

// failureWarnEvery: dentro de una racha de fallos de una fuente, se loguea
// en Warn el primero y luego uno de cada failureWarnEvery.
const failureWarnEvery = 60

// sourceHealth cuenta fallos consecutivos por fuente.
type sourceHealth struct {
	mu     sync.Mutex
	streak map[string]int
}

func newSourceHealth() *sourceHealth {
	return &sourceHealth{streak: make(map[string]int)}
}

// failed registra un fallo y devuelve true si se logueó en Warn.
func (h *sourceHealth) failed(source string, err error, attrs ...any) bool {
	h.mu.Lock()
	h.streak[source]++
	n := h.streak[source]
	h.mu.Unlock()

	args := append([]any{"source", source, "consecutive", n, "err", err}, attrs...)
	if n == 1 || n%failureWarnEvery == 0 {
		slog.Warn("detector: source failing", args...)
		return true
	}
	slog.Debug("detector: source failing", args...)
	return false
}

// ok cierra la racha de fallos de source, si la había.
func (h *sourceHealth) ok(source string) {
	h.mu.Lock()
	n := h.streak[source]
	delete(h.streak, source)
	h.mu.Unlock()

	if n > 0 {
		slog.Info("detector: source recovered", "source", source, "after_failures", n)
	}
}

func (h *sourceHealth) failures(source string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streak[source]
}
