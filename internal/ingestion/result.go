package ingestion

import (
	"errors"
	"fmt"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/guard"
)

// Result is returned to the caller of every import, successful or not.
type Result struct {
	Success        bool              `json:"success"`
	IsDryRun       bool              `json:"isDryRun"`
	ImportID       *string           `json:"importId,omitempty"`
	ProcessedCount *int              `json:"processedCount,omitempty"`
	ErrorCount     *int              `json:"errorCount,omitempty"`
	Errors         []domain.RowError `json:"errors,omitempty"`
	SummaryMessage string            `json:"summaryMessage"`
	Rejection      *guard.Rejection  `json:"rejection,omitempty"`
}

func rejectedResult(dryRun bool, rejection *guard.Rejection) Result {
	return Result{
		IsDryRun:       dryRun,
		SummaryMessage: "Import rejected: " + rejection.Reason,
		Rejection:      rejection,
	}
}

func preconditionResult(dryRun bool, err *Error) Result {
	return Result{
		IsDryRun:       dryRun,
		SummaryMessage: "Import rejected: " + err.Message,
	}
}

// failedResult reports a fatal abort. Counts are left out so that rows seen
// before the abort are never reported as processed.
func failedResult(dryRun bool, importID *string, err *Error) Result {
	return Result{
		IsDryRun:       dryRun,
		ImportID:       importID,
		Errors:         []domain.RowError{{Row: 0, Code: err.Code, Message: failureMessage(err)}},
		SummaryMessage: "Import failed: " + failureMessage(err) + ".",
	}
}

func completedResult(dryRun bool, importID *string, t tally) Result {
	processed := t.Processed
	failed := t.Failed()
	return Result{
		Success:        true,
		IsDryRun:       dryRun,
		ImportID:       importID,
		ProcessedCount: &processed,
		ErrorCount:     &failed,
		Errors:         t.Errors,
		SummaryMessage: summaryMessage(dryRun, t),
	}
}

func summaryMessage(dryRun bool, t tally) string {
	failed := t.Failed()
	if dryRun {
		if failed == 0 {
			return fmt.Sprintf("Dry run complete: %d rows would be imported.", t.Processed)
		}
		return fmt.Sprintf("Dry run complete: %d rows would be imported, %d rows have errors.", t.Processed, failed)
	}
	switch {
	case failed == 0:
		return fmt.Sprintf("Import complete: %d rows processed.", t.Processed)
	case t.Processed > 0:
		return fmt.Sprintf("Partial import complete: %d rows processed, %d rows failed.", t.Processed, failed)
	default:
		return fmt.Sprintf("Import finished with errors: 0 rows processed, %d rows failed.", failed)
	}
}

// failureMessage renders a fatal error for users.
func failureMessage(err *Error) string {
	switch {
	case err.Code == CodeRowLimit, err.Code == CodeFileTooLarge:
		return err.Message
	case errors.Is(err, ErrNoHeader):
		return "file has no header row"
	case err.Cause != nil:
		return fmt.Sprintf("%s: %s", err.Message, truncateError(err.Cause))
	}
	return err.Message
}
