package store

import (
	"context"

	"github.com/fjod/go_storefront/internal/domain"
)

// CatalogReader answers batched existence queries against the live catalog.
type CatalogReader interface {
	BatchProducts(ctx context.Context, ids []string) ([]domain.ProductRef, error)
}

// Revalidator cross-checks collection contents against the catalog so items
// deleted or unpublished by their seller silently disappear instead of
// surfacing a broken line at checkout.
type Revalidator struct {
	catalog CatalogReader
}

func NewRevalidator(catalog CatalogReader) *Revalidator {
	return &Revalidator{catalog: catalog}
}

// Prune returns the lines whose ids still resolve in the catalog and whether
// anything was dropped. The quantity of a surviving line is untouched.
func (r *Revalidator) Prune(ctx context.Context, lines []domain.Line) ([]domain.Line, bool, error) {
	if len(lines) == 0 {
		return lines, false, nil
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}

	refs, err := r.catalog.BatchProducts(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	existing := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		existing[ref.ID] = struct{}{}
	}

	kept := make([]domain.Line, 0, len(lines))
	for _, l := range lines {
		if _, ok := existing[l.ID]; ok {
			kept = append(kept, l)
		}
	}
	return kept, len(kept) != len(lines), nil
}
