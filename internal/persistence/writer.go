package persistence

import (
	"CustodyLedger/internal/ledger"
	"context"
	"fmt"
	"strings"
)

const journalColumnCount = 9

// writeJournalBatch appends journal entries with one multi-row INSERT.
// Journal ids are unique, so a replayed batch fails as a conflict instead
// of being silently skipped.
func writeJournalBatch(ctx context.Context, q queryer, journals []ledger.Journal) error {
	if len(journals) == 0 {
		return nil
	}

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*journalColumnCount)

	for i, j := range journals {
		base := i * journalColumnCount
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef,
			j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
			string(j.Asset), j.Amount, j.JournalType.String(), j.Timestamp,
		)
	}

	query := `INSERT INTO custody.journal
		(journal_id, batch_id, event_ref, debit_account, credit_account, asset, amount, journal_type, created_at)
		VALUES ` + strings.Join(values, ", ")

	_, err := q.ExecContext(ctx, query, args...)
	return dbError(err, "append journal")
}
