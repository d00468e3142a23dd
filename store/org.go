package store

import (
	"fmt"
	"strings"
	"time"
)

// FormatTradeOrg renders a ClosedTrade as an Org-mode block for pasting into
// a trading journal. Structured facts live in the PROPERTIES drawer so they
// stay searchable.
func FormatTradeOrg(t ClosedTrade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s)\n", t.Symbol, t.Side, t.ID)
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":POSITION_ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":VOLUME: %.2f\n", t.Volume)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.5f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.5f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":OPENED_AT: %s\n", t.OpenedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSED_AT: %s\n", t.ClosedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":PNL: %.2f\n", t.PnL)
	fmt.Fprintf(&b, ":REASON: %s\n", t.CloseReason)
	b.WriteString(":END:\n")
	return b.String()
}

// FormatTradesOrg renders trades followed by a one-line day summary.
func FormatTradesOrg(trades []ClosedTrade) string {
	if len(trades) == 0 {
		return "# no trades\n"
	}
	var (
		b     strings.Builder
		total float64
		wins  int
	)
	for _, t := range trades {
		b.WriteString(FormatTradeOrg(t))
		b.WriteString("\n")
		total += t.PnL
		if t.Win() {
			wins++
		}
	}
	fmt.Fprintf(&b, "# trades: %d  wins: %d  pnl: %.2f\n", len(trades), wins, total)
	return b.String()
}
