package domain

// Reputation es la influencia social del handle asociado a una dirección.
// Se obtiene por evaluación y no se cachea.
type Reputation struct {
	Handle         string
	Followers      int64
	Score          float64
	VerifiedSource bool // true si viene del proveedor primario (score real)
}

// Thresholds son los umbrales de aceptación por reputación.
type Thresholds struct {
	HighFollowers int64   // acepta solo por seguidores
	LowFollowers  int64   // mínimo de seguidores junto con LowScore
	LowScore      float64 // mínimo de score junto con LowFollowers
	HighScore     float64 // acepta con fuente verificada y score alto
}

// DefaultThresholds devuelve los umbrales de producción.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighFollowers: 200_000,
		LowFollowers:  10_000,
		LowScore:      30,
		HighScore:     90,
	}
}

// AcceptReason explica por qué un candidato fue aceptado ("" = rechazado).
type AcceptReason string

const (
	ReasonNone          AcceptReason = ""
	ReasonHighFollowers AcceptReason = "high_followers"
	ReasonLowPair       AcceptReason = "followers_and_score"
	ReasonVerifiedScore AcceptReason = "verified_score"
)

// Evaluate devuelve la primera regla que cumple la reputación, o ReasonNone.
//
// Reglas (basta una):
//   - followers ≥ HighFollowers
//   - followers ≥ LowFollowers y score ≥ LowScore
//   - fuente verificada y score ≥ HighScore
func (t Thresholds) Evaluate(r Reputation) AcceptReason {
	switch {
	case r.Followers >= t.HighFollowers:
		return ReasonHighFollowers
	case r.Followers >= t.LowFollowers && r.Score >= t.LowScore:
		return ReasonLowPair
	case r.VerifiedSource && r.Score >= t.HighScore:
		return ReasonVerifiedScore
	default:
		return ReasonNone
	}
}

// Accepts devuelve true si alguna regla acepta la reputación.
func (t Thresholds) Accepts(r Reputation) bool {
	return t.Evaluate(r) != ReasonNone
}
