package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	patientsTotal      atomic.Int64
	codesAssigned      atomic.Int64
	estimatesSubmitted atomic.Int64
	orphanedEstimates  atomic.Int64
	renumberRuns       atomic.Int64
	importRowsAdded    atomic.Int64
	importRowsSkipped  atomic.Int64
	storageFailures    atomic.Int64
)

func ObservePatientCount(count int64) { patientsTotal.Store(count) }

func AddCodesAssigned(n int)      { codesAssigned.Add(int64(n)) }
func IncEstimatesSubmitted()      { estimatesSubmitted.Add(1) }
func IncOrphanedEstimates()       { orphanedEstimates.Add(1) }
func IncRenumberRuns()            { renumberRuns.Add(1) }
func AddImportRows(added, skipped int) {
	importRowsAdded.Add(int64(added))
	importRowsSkipped.Add(int64(skipped))
}
func IncStorageFailures() { storageFailures.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP dentage_patients_total Number of patient records currently registered.\n")
	fmt.Fprintf(w, "# TYPE dentage_patients_total gauge\n")
	fmt.Fprintf(w, "dentage_patients_total %d\n", patientsTotal.Load())

	fmt.Fprintf(w, "# HELP dentage_blinding_codes_assigned_total Number of blinding codes written by assignment sweeps.\n")
	fmt.Fprintf(w, "# TYPE dentage_blinding_codes_assigned_total counter\n")
	fmt.Fprintf(w, "dentage_blinding_codes_assigned_total %d\n", codesAssigned.Load())

	fmt.Fprintf(w, "# HELP dentage_estimates_submitted_total Number of estimates reconciled onto patient records.\n")
	fmt.Fprintf(w, "# TYPE dentage_estimates_submitted_total counter\n")
	fmt.Fprintf(w, "dentage_estimates_submitted_total %d\n", estimatesSubmitted.Load())

	fmt.Fprintf(w, "# HELP dentage_estimates_orphaned_total Number of submissions whose code matched no patient.\n")
	fmt.Fprintf(w, "# TYPE dentage_estimates_orphaned_total counter\n")
	fmt.Fprintf(w, "dentage_estimates_orphaned_total %d\n", orphanedEstimates.Load())

	fmt.Fprintf(w, "# HELP dentage_renumber_runs_total Number of completed identifier renumbering passes.\n")
	fmt.Fprintf(w, "# TYPE dentage_renumber_runs_total counter\n")
	fmt.Fprintf(w, "dentage_renumber_runs_total %d\n", renumberRuns.Load())

	fmt.Fprintf(w, "# HELP dentage_import_rows_added_total Number of patient rows added by batch imports.\n")
	fmt.Fprintf(w, "# TYPE dentage_import_rows_added_total counter\n")
	fmt.Fprintf(w, "dentage_import_rows_added_total %d\n", importRowsAdded.Load())

	fmt.Fprintf(w, "# HELP dentage_import_rows_skipped_total Number of batch import rows skipped as duplicates.\n")
	fmt.Fprintf(w, "# TYPE dentage_import_rows_skipped_total counter\n")
	fmt.Fprintf(w, "dentage_import_rows_skipped_total %d\n", importRowsSkipped.Load())

	fmt.Fprintf(w, "# HELP dentage_storage_failures_total Number of radiograph storage operations that failed after retries.\n")
	fmt.Fprintf(w, "# TYPE dentage_storage_failures_total counter\n")
	fmt.Fprintf(w, "dentage_storage_failures_total %d\n", storageFailures.Load())
}
