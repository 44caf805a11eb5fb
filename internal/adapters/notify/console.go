package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/keybot/internal/domain"
)

// Console implementa ports.Notifier escribiendo en un io.Writer.
// Las evaluaciones de ciclos solapados se serializan para no mezclar tablas.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

// NewConsole crea un notificador que escribe a stdout.
// Con quiet=true las evaluaciones sin aceptados no se imprimen.
func NewConsole(quiet bool) *Console {
	return &Console{out: os.Stdout, quiet: quiet}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyEvaluation imprime la tabla de candidatos evaluados en orden de precio.
func (c *Console) NotifyEvaluation(_ context.Context, ev domain.Evaluation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := ev.EvaluatedAt
	if now.IsZero() {
		now = time.Now()
	}
	stamp := now.Format("15:04:05")

	if len(ev.Scored) == 0 {
		if !c.quiet {
			fmt.Fprintf(c.out, "[%s] no candidates\n", stamp)
		}
		return nil
	}
	if c.quiet && len(ev.Accepted) == 0 {
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] batch %s: %d priced, %d accepted (ceiling %s ETH)\n",
		stamp, shortID(ev), len(ev.Scored), len(ev.Accepted), domain.FormatEther(ev.Ceiling))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Address", "Quote", "Entry", "Followers", "Score", "Src", "Verdict")
	for i, sc := range ev.Scored {
		table.Append(
			fmt.Sprintf("%d", i+1),
			domain.ShortAddress(sc.Address),
			domain.FormatEther(sc.Quote),
			domain.FormatEther(sc.EntryPrice),
			fmt.Sprintf("%d", sc.Reputation.Followers),
			fmt.Sprintf("%.1f", sc.Reputation.Score),
			sourceLabel(sc),
			verdict(sc),
		)
	}
	table.Render()
	return nil
}

// NotifyPurchase imprime una línea por resultado de compra.
func (c *Console) NotifyPurchase(_ context.Context, r domain.PurchaseResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("[%s] %-9s %s nonce=%d value=%s ETH",
		r.RecordedAt.Format("15:04:05"), r.Status, r.Subject.Hex(), r.Nonce, domain.FormatEther(r.EntryPrice))
	if r.TxHash != (common.Hash{}) {
		line += " tx=" + r.TxHash.Hex()
	}
	if r.Error != "" {
		line += " err=" + r.Error
	}
	fmt.Fprintln(c.out, line)
	return nil
}

// PrintSummary imprime el resumen del journal al apagar.
func (c *Console) PrintSummary(stats domain.PurchaseStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out, "\n=== SESSION SUMMARY ===")
	table := tablewriter.NewWriter(c.out)
	table.Header("Submitted", "Confirmed", "Failed", "Skipped", "Spent (ETH)")
	table.Append(
		fmt.Sprintf("%d", stats.Submitted),
		fmt.Sprintf("%d", stats.Confirmed),
		fmt.Sprintf("%d", stats.Failed),
		fmt.Sprintf("%d", stats.Skipped),
		domain.FormatEther(stats.SpentWei),
	)
	table.Render()
}

// --- helpers ---

func verdict(sc domain.ScoredCandidate) string {
	switch {
	case !sc.Priced:
		return "TOO EXPENSIVE"
	case sc.Accepted():
		return "BUY (" + string(sc.Reason) + ")"
	case sc.Reputation.Handle == "":
		return "NO HANDLE"
	default:
		return "LOW REP"
	}
}

func sourceLabel(sc domain.ScoredCandidate) string {
	switch {
	case sc.Reputation.Handle == "":
		return "-"
	case sc.Reputation.VerifiedSource:
		return "primary"
	default:
		return "secondary"
	}
}

func shortID(ev domain.Evaluation) string {
	s := ev.BatchID.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
