package storage

// journal.go — registro acotado de intentos de compra de la sesión.
//
// La base vive solo en memoria (":memory:"): el historial no sobrevive al
// proceso. Se conservan como mucho maxRows filas; al insertar se poda lo
// más antiguo.

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/keybot/internal/domain"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS purchases (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT    NOT NULL,
    batch_id    TEXT    NOT NULL,
    subject     TEXT    NOT NULL,
    nonce       INTEGER NOT NULL,
    entry_wei   TEXT    NOT NULL DEFAULT '0',
    tx_hash     TEXT    NOT NULL DEFAULT '',
    status      TEXT    NOT NULL,
    error       TEXT    NOT NULL DEFAULT '',
    recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_purchases_status ON purchases(status);
`

// DefaultJournalRows es el tamaño por defecto del journal.
const DefaultJournalRows = 1000

// Journal implementa ports.Journal sobre SQLite en memoria.
type Journal struct {
	db      *sql.DB
	maxRows int
	mu      sync.Mutex
}

// NewJournal abre el journal en memoria con un máximo de maxRows filas.
func NewJournal(maxRows int) (*Journal, error) {
	if maxRows <= 0 {
		maxRows = DefaultJournalRows
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("storage.NewJournal: open: %w", err)
	}
	// Cada conexión a ":memory:" es una base distinta.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewJournal: apply schema: %w", err)
	}
	return &Journal{db: db, maxRows: maxRows}, nil
}

// RecordPurchase inserta un resultado y poda las filas que excedan el máximo.
func (j *Journal) RecordPurchase(ctx context.Context, r domain.PurchaseResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	entry := "0"
	if r.EntryPrice != nil {
		entry = r.EntryPrice.String()
	}
	txHash := ""
	if r.TxHash != (common.Hash{}) {
		txHash = r.TxHash.Hex()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO purchases (id, batch_id, subject, nonce, entry_wei, tx_hash, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.BatchID.String(), r.Subject.Hex(), int64(r.Nonce),
		entry, txHash, string(r.Status), r.Error, r.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordPurchase: insert: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		DELETE FROM purchases
		WHERE seq <= (SELECT MAX(seq) FROM purchases) - ?`, j.maxRows)
	if err != nil {
		return fmt.Errorf("storage.RecordPurchase: prune: %w", err)
	}
	return nil
}

// Recent devuelve los últimos limit resultados, del más nuevo al más viejo.
func (j *Journal) Recent(ctx context.Context, limit int) ([]domain.PurchaseResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = j.maxRows
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, batch_id, subject, nonce, entry_wei, tx_hash, status, error, recorded_at
		FROM purchases
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Recent: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PurchaseResult
	for rows.Next() {
		var (
			id, batchID, subject, entry, txHash, status, errText string
			nonce                                                int64
			recordedAt                                           time.Time
		)
		if err := rows.Scan(&id, &batchID, &subject, &nonce, &entry, &txHash, &status, &errText, &recordedAt); err != nil {
			return nil, fmt.Errorf("storage.Recent: scan: %w", err)
		}
		r := domain.PurchaseResult{
			ID:         uuid.MustParse(id),
			BatchID:    uuid.MustParse(batchID),
			Subject:    common.HexToAddress(subject),
			Nonce:      uint64(nonce),
			EntryPrice: parseWei(entry),
			Status:     domain.PurchaseStatus(status),
			Error:      errText,
			RecordedAt: recordedAt,
		}
		if txHash != "" {
			r.TxHash = common.HexToHash(txHash)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats cuenta los resultados por estado y suma el valor de las confirmadas.
func (j *Journal) Stats(ctx context.Context) (domain.PurchaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := domain.PurchaseStats{SpentWei: new(big.Int)}

	rows, err := j.db.QueryContext(ctx, `SELECT status, entry_wei FROM purchases`)
	if err != nil {
		return stats, fmt.Errorf("storage.Stats: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, entry string
		if err := rows.Scan(&status, &entry); err != nil {
			return stats, fmt.Errorf("storage.Stats: scan: %w", err)
		}
		switch domain.PurchaseStatus(status) {
		case domain.PurchaseSubmitted:
			stats.Submitted++
		case domain.PurchaseConfirmed:
			stats.Confirmed++
			stats.SpentWei.Add(stats.SpentWei, parseWei(entry))
		case domain.PurchaseFailed:
			stats.Failed++
		case domain.PurchaseSkipped:
			stats.Skipped++
		}
	}
	return stats, rows.Err()
}

// Close cierra la base; su contenido se pierde.
func (j *Journal) Close() error {
	return j.db.Close()
}

func parseWei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
