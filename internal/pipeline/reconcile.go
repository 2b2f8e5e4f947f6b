package pipeline

import (
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/models"
)

// Reconcile restricts batch to the columns present in schema, keeping the
// batch's column order, and returns the names of the columns it dropped.
// Rows are copied; the input batch is left untouched.
func Reconcile(batch *models.Batch, schema core.Schema) (*models.Batch, []string) {
	keep := make([]string, 0, len(batch.Columns))
	var dropped []string
	for _, col := range batch.Columns {
		if schema.Has(col) {
			keep = append(keep, col)
		} else {
			dropped = append(dropped, col)
		}
	}
	return batch.Project(keep), dropped
}
