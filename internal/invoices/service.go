package invoices

import (
	"context"
	"fmt"
)

// RecomputeProjectTotals re-derives a project's open balance and billed total from all its invoices.
func RecomputeProjectTotals(ctx context.Context, repo Repository, projectID string) (ProjectTotals, error) {
	if projectID == "" {
		return ProjectTotals{}, nil
	}
	list, err := repo.ListByProject(ctx, projectID)
	if err != nil {
		return ProjectTotals{}, err
	}
	totals := TotalsFor(list)
	if err := repo.UpdateProjectTotals(ctx, projectID, totals); err != nil {
		return ProjectTotals{}, fmt.Errorf("invoices: project %s totals: %w", projectID, err)
	}
	return totals, nil
}
