package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholds_AcceptanceTable(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		rep  Reputation
		want AcceptReason
	}{
		{"high followers, no score", Reputation{Followers: 250_000}, ReasonHighFollowers},
		{"low followers + low score", Reputation{Followers: 15_000, Score: 40}, ReasonLowPair},
		{"verified high score", Reputation{Score: 95, VerifiedSource: true}, ReasonVerifiedScore},
		{"small account", Reputation{Followers: 5_000, Score: 20}, ReasonNone},
		{"high score but unverified", Reputation{Score: 95}, ReasonNone},
		{"enough followers, score too low", Reputation{Followers: 15_000, Score: 29.9}, ReasonNone},
		{"exact boundaries", Reputation{Followers: 10_000, Score: 30}, ReasonLowPair},
		{"zero record", Reputation{}, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Evaluate(tt.rep))
			assert.Equal(t, tt.want != ReasonNone, th.Accepts(tt.rep))
		})
	}
}
