package storage_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keybot/internal/adapters/storage"
	"github.com/alejandrodnm/keybot/internal/domain"
)

func makeResult(nonce uint64, status domain.PurchaseStatus, wei int64) domain.PurchaseResult {
	var err error
	if status == domain.PurchaseFailed {
		err = errors.New("reverted")
	}
	return domain.NewPurchaseResult(domain.Submission{
		BatchID:    uuid.New(),
		Subject:    common.BigToAddress(big.NewInt(int64(nonce) + 1)),
		Nonce:      nonce,
		EntryPrice: big.NewInt(wei),
		TxHash:     common.BigToHash(big.NewInt(int64(nonce) + 100)),
	}, status, err)
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j, err := storage.NewJournal(10)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	first := makeResult(1, domain.PurchaseSubmitted, 1000)
	second := makeResult(2, domain.PurchaseFailed, 2000)
	require.NoError(t, j.RecordPurchase(ctx, first))
	require.NoError(t, j.RecordPurchase(ctx, second))

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Más reciente primero
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, second.Subject, recent[0].Subject)
	assert.Equal(t, uint64(2), recent[0].Nonce)
	assert.Equal(t, 0, big.NewInt(2000).Cmp(recent[0].EntryPrice))
	assert.Equal(t, second.TxHash, recent[0].TxHash)
	assert.Equal(t, domain.PurchaseFailed, recent[0].Status)
	assert.Equal(t, "reverted", recent[0].Error)
	assert.Equal(t, first.ID, recent[1].ID)
}

func TestJournal_PrunesBeyondMaxRows(t *testing.T) {
	j, err := storage.NewJournal(3)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, j.RecordPurchase(ctx, makeResult(i, domain.PurchaseSubmitted, 1)))
	}

	recent, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(4), recent[0].Nonce)
	assert.Equal(t, uint64(2), recent[2].Nonce)
}

func TestJournal_Stats(t *testing.T) {
	j, err := storage.NewJournal(0)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	for _, r := range []domain.PurchaseResult{
		makeResult(1, domain.PurchaseSubmitted, 5),
		makeResult(1, domain.PurchaseConfirmed, 5),
		makeResult(2, domain.PurchaseSubmitted, 7),
		makeResult(2, domain.PurchaseConfirmed, 7),
		makeResult(3, domain.PurchaseFailed, 9),
		makeResult(4, domain.PurchaseSkipped, 11),
	} {
		require.NoError(t, j.RecordPurchase(ctx, r))
	}

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Submitted)
	assert.Equal(t, 2, stats.Confirmed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, int64(12), stats.SpentWei.Int64())
}

func TestJournal_EmptyStats(t *testing.T) {
	j, err := storage.NewJournal(5)
	require.NoError(t, err)
	defer j.Close()

	stats, err := j.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Confirmed)
	assert.Equal(t, int64(0), stats.SpentWei.Int64())
}
