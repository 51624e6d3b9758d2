package flow

import (
	"fmt"

	"github.com/ashureev/qiming/internal/catalog"
	"github.com/ashureev/qiming/internal/domain"
)

// CurrentCandidate resolves the name displayed for sess: the active
// direction's sample at the session's cursor. It returns nil, nil when sess
// is nil or no direction has been chosen, and an error wrapping
// catalog.ErrNotFound when the direction or the sampled name has no record.
func CurrentCandidate(sess *domain.BabySession, cat catalog.Catalog) (*domain.NameDetail, error) {
	if sess == nil || sess.SelectedDirectionID == "" {
		return nil, nil
	}
	dir, ok := cat.Direction(sess.SelectedDirectionID)
	if !ok {
		return nil, fmt.Errorf("direction %q: %w", sess.SelectedDirectionID, catalog.ErrNotFound)
	}
	name := candidateName(dir, sess.Cursor(dir.ID))
	detail, ok := cat.NameDetail(name)
	if !ok {
		return nil, fmt.Errorf("name %q in direction %q: %w", name, dir.ID, catalog.ErrNotFound)
	}
	return &detail, nil
}

// Advance moves cursor by k positions over a list of length n, wrapping in
// both directions. Out-of-range cursors are normalized first.
func Advance(cursor, k, n int) int {
	if n <= 0 {
		return 0
	}
	return normalize(cursor+k, n)
}

func normalize(cursor, n int) int {
	if n <= 0 {
		return 0
	}
	cursor %= n
	if cursor < 0 {
		cursor += n
	}
	return cursor
}

func candidateName(dir domain.NameDirection, cursor int) string {
	if len(dir.SampleNames) == 0 {
		return ""
	}
	return dir.SampleNames[normalize(cursor, len(dir.SampleNames))]
}
