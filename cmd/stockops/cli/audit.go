package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/stockops/internal/inventory"
)

// Auditor replays the ledger against the balance projection.
type Auditor interface {
	Audit(ctx context.Context) ([]inventory.Drift, int, error)
}

// AuditOptions defines the flags for audit-ledger.
type AuditOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AuditSummary is the JSON document printed by audit-ledger -json.
type AuditSummary struct {
	OK     bool              `json:"ok"`
	Pairs  int               `json:"pairs"`
	Drifts []inventory.Drift `json:"drifts"`
}

// ExitDrift is returned when at least one pair does not replay.
const ExitDrift = 10

// AuditCommand replays every pair and prints the outcome. It exits 0 when
// the ledger is consistent, ExitDrift on drift and 1 on failure.
func AuditCommand(ctx context.Context, ledger Auditor, opts AuditOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	drifts, pairs, err := ledger.Audit(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "audit-ledger: %v\n", err)
		return 1
	}
	if drifts == nil {
		drifts = []inventory.Drift{}
	}
	if opts.JSONOutput {
		summary := AuditSummary{OK: len(drifts) == 0, Pairs: pairs, Drifts: drifts}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "audit-ledger: encode json: %v\n", err)
			return 1
		}
	} else {
		renderAuditHuman(opts.Stdout, pairs, drifts)
	}
	if len(drifts) > 0 {
		return ExitDrift
	}
	return 0
}

func renderAuditHuman(w io.Writer, pairs int, drifts []inventory.Drift) {
	if len(drifts) == 0 {
		_, _ = fmt.Fprintf(w, "ledger consistent: %d pairs replayed\n", pairs)
		return
	}
	_, _ = fmt.Fprintf(w, "ledger drift: %d of %d pairs\n", len(drifts), pairs)
	for _, d := range drifts {
		_, _ = fmt.Fprintf(w, "  product=%s location=%s ledger_sum=%s balance=%s first_bad_seq=%d\n",
			d.ProductID, d.LocationID, d.LedgerSum, d.Balance, d.FirstBadSeq)
	}
}
