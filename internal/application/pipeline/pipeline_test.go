package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keybot/internal/application/detector"
	"github.com/alejandrodnm/keybot/internal/application/execution"
	"github.com/alejandrodnm/keybot/internal/application/scorer"
	"github.com/alejandrodnm/keybot/internal/domain"
	"github.com/alejandrodnm/keybot/internal/ports/portstest"
)

var identity = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func addr(i int64) common.Address {
	return common.BigToAddress(big.NewInt(i))
}

func creation(subject common.Address) domain.TradeEvent {
	return domain.TradeEvent{Subject: subject, Trader: subject, IsBuy: true, EthAmount: big.NewInt(0)}
}

type fixture struct {
	chain   *portstest.Chain
	writer  *portstest.Writer
	rep     *portstest.Reputation
	journal *portstest.Journal
}

func newFixture() *fixture {
	return &fixture{
		chain:   portstest.NewChain(),
		writer:  portstest.NewWriter(identity),
		rep:     portstest.NewReputation(),
		journal: &portstest.Journal{},
	}
}

func testConfig(t *testing.T) Config {
	ceiling, err := domain.ParseEther("0.012")
	require.NoError(t, err)
	return Config{
		Detector:          detector.Config{Interval: 10 * time.Millisecond},
		Scorer:            scorer.Config{Ceiling: ceiling},
		Execution:         execution.Config{Ceiling: ceiling, ReceiptTimeout: time.Second},
		AdmissionCapacity: 20,
	}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	return New(testConfig(t), f.chain, f.writer, f.rep, f.journal, &portstest.Notifier{})
}

func TestRunOnce_EndToEnd(t *testing.T) {
	f := newFixture()
	good, weak := addr(1), addr(2)
	f.chain.Head = 10
	f.chain.Nonce = 3
	f.chain.Trades = []domain.TradeEvent{creation(good)}
	f.chain.Pending = []domain.PendingTx{{From: weak}}
	f.chain.SetSupplyQuote(good, 1)
	f.chain.SetSupplyQuote(weak, 1)
	f.rep.Set(good, domain.Reputation{Handle: "good", Followers: 0, Score: 95, VerifiedSource: true})

	p := f.pipeline(t)
	ev, subs := p.RunOnce(context.Background())

	require.Len(t, ev.Accepted, 1)
	require.Len(t, subs, 1)
	assert.Equal(t, good, subs[0].Subject)
	assert.Equal(t, uint64(3), subs[0].Nonce)
	assert.Equal(t, []domain.PurchaseStatus{domain.PurchaseSubmitted, domain.PurchaseConfirmed}, f.journal.Statuses(good))

	// Ambos superaron el filtro de precio: quedan admitidos
	assert.True(t, p.Admission().Contains(good))
	assert.True(t, p.Admission().Contains(weak))
}

func TestRunOnce_FailedPurchaseIsRetried(t *testing.T) {
	f := newFixture()
	a := addr(1)
	f.chain.Trades = []domain.TradeEvent{creation(a)}
	f.chain.SetSupplyQuote(a, 1)
	f.rep.Set(a, domain.Reputation{Followers: 500_000})
	f.writer.FailReceipt(a, errors.New("transaction reverted"))

	p := f.pipeline(t)
	_, subs := p.RunOnce(context.Background())
	require.Len(t, subs, 1)
	assert.False(t, p.Admission().Contains(a), "released after failed confirmation")

	// El siguiente ciclo lo vuelve a detectar y reintenta
	_, subs = p.RunOnce(context.Background())
	require.Len(t, subs, 1)
	assert.Len(t, f.writer.Sent(), 2)
}

func TestRunOnce_DefaultFeeOnReadFailure(t *testing.T) {
	f := newFixture()
	f.chain.FeesErr = portstest.ErrUnavailable

	p := f.pipeline(t)
	ev, subs := p.RunOnce(context.Background())
	assert.Empty(t, ev.Scored)
	assert.Empty(t, subs)
}

func TestRunOnce_InertWithoutWriter(t *testing.T) {
	f := newFixture()
	a := addr(1)
	f.chain.Trades = []domain.TradeEvent{creation(a)}
	f.chain.SetSupplyQuote(a, 1)
	f.rep.Set(a, domain.Reputation{Followers: 500_000})

	p := New(testConfig(t), f.chain, nil, f.rep, f.journal, nil)
	ev, subs := p.RunOnce(context.Background())
	assert.Len(t, ev.Accepted, 1)
	assert.Empty(t, subs)
	assert.Equal(t, true, p.Status()["inert"])
}

func TestRun_BuysOncePerCandidate(t *testing.T) {
	f := newFixture()
	a := addr(1)
	f.chain.Trades = []domain.TradeEvent{creation(a)}
	f.chain.SetSupplyQuote(a, 1)
	f.rep.Set(a, domain.Reputation{Followers: 500_000})

	p := f.pipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(f.writer.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, f.writer.Sent(), 1, "admitted candidates are not bought twice")

	cancel()
	<-done
	p.Wait()
}

func TestRunner_Reconfigure(t *testing.T) {
	var (
		mu         sync.Mutex
		identities []string
		released   []string
	)
	factory := func(_ context.Context, id string) (*Pipeline, func(), error) {
		mu.Lock()
		identities = append(identities, id)
		mu.Unlock()
		f := newFixture()
		release := func() {
			mu.Lock()
			released = append(released, id)
			mu.Unlock()
		}
		return f.pipeline(t), release, nil
	}

	r := NewRunner(factory)
	require.Error(t, r.Reconfigure("early"))

	require.NoError(t, r.Start(context.Background(), "first"))
	first := r.Current()
	require.NotNil(t, first)
	require.Error(t, r.Start(context.Background(), "again"))

	require.NoError(t, r.Reconfigure("second"))
	assert.NotSame(t, first, r.Current())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(released) == 1
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	assert.Nil(t, r.Current())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, identities)
	assert.Equal(t, []string{"first", "second"}, released)
}

func TestRunner_FactoryError(t *testing.T) {
	r := NewRunner(func(context.Context, string) (*Pipeline, func(), error) {
		return nil, nil, errors.New("bad key")
	})
	err := r.Start(context.Background(), "x")
	assert.ErrorContains(t, err, "bad key")
	assert.Nil(t, r.Current())
}
