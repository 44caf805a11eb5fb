package reputation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keybot/internal/adapters/reputation"
	"github.com/alejandrodnm/keybot/internal/domain"
)

var subject = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")

// newTestClient levanta los tres upstreams; un handler nil responde 404.
func newTestClient(t *testing.T, users, primary, secondary http.HandlerFunc) *reputation.Client {
	t.Helper()
	mk := func(h http.HandlerFunc) string {
		if h == nil {
			h = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }
		}
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		return srv.URL
	}
	return reputation.NewClient(reputation.Config{
		UsersBase:     mk(users),
		PrimaryBase:   mk(primary),
		SecondaryBase: mk(secondary),
		Timeout:       2 * time.Second,
		RatePerSec:    1000,
		Retries:       1,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func usersOK(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/"+strings.ToLower(subject.Hex()), r.URL.Path)
		writeJSON(w, map[string]any{"twitterUsername": "alice"})
	}
}

func TestLookup_PrimarySucceeds(t *testing.T) {
	primary := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/twitter/graph/ajax/", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("accountSlug"))
		writeJSON(w, map[string]any{
			"followers": []map[string]any{{"value": 1000}, {"value": 15000}},
			"scores":    []map[string]any{{"value": 12.5}, {"value": 40}},
		})
	}
	c := newTestClient(t, usersOK(t), primary, nil)

	rep := c.Lookup(context.Background(), subject)
	assert.Equal(t, domain.Reputation{Handle: "alice", Followers: 15000, Score: 40, VerifiedSource: true}, rep)
}

func TestLookup_PrimaryEmptySeriesIsZeroButVerified(t *testing.T) {
	primary := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"followers": []any{}, "scores": []any{}})
	}
	c := newTestClient(t, usersOK(t), primary, nil)

	rep := c.Lookup(context.Background(), subject)
	assert.True(t, rep.VerifiedSource)
	assert.Zero(t, rep.Followers)
	assert.Zero(t, rep.Score)
}

func TestLookup_FallsBackToSecondary(t *testing.T) {
	primary := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) }
	secondary := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/twitter-live-follower-count/alice", r.URL.Path)
		writeJSON(w, map[string]any{"API_sub": 250000, "est_sub": 251000})
	}
	c := newTestClient(t, usersOK(t), primary, secondary)

	rep := c.Lookup(context.Background(), subject)
	assert.Equal(t, int64(250000), rep.Followers)
	assert.InDelta(t, 251000, rep.Score, 0.1)
	assert.False(t, rep.VerifiedSource)
}

func TestLookup_BothProvidersFailIsZero(t *testing.T) {
	fail := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadRequest) }
	c := newTestClient(t, usersOK(t), fail, fail)

	rep := c.Lookup(context.Background(), subject)
	assert.Equal(t, domain.Reputation{Handle: "alice"}, rep)
	assert.False(t, domain.DefaultThresholds().Accepts(rep))
}

func TestLookup_NoHandle(t *testing.T) {
	users := func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, map[string]any{"twitterUsername": ""}) }
	c := newTestClient(t, users, nil, nil)

	assert.Equal(t, domain.Reputation{}, c.Lookup(context.Background(), subject))

	_, err := c.ResolveHandle(context.Background(), subject)
	assert.ErrorIs(t, err, reputation.ErrNoHandle)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	users := func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"twitterUsername": "bob"})
	}
	c := newTestClient(t, users, nil, nil)

	handle, err := c.ResolveHandle(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, "bob", handle)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	users := func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}
	c := newTestClient(t, users, nil, nil)

	_, err := c.ResolveHandle(context.Background(), subject)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
