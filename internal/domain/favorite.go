package domain

import "time"

// FavoriteItem is a saved candidate name for a subject.
//
// SubjectID is a lookup key only: the session it names may have been
// deleted, so callers must never assume it resolves.
type FavoriteItem struct {
	ID                 string      `json:"id"`
	SubjectID          string      `json:"subjectId"`
	SubjectLabel       string      `json:"subjectLabel"`
	Name               string      `json:"name"`
	NameDetailSnapshot *NameDetail `json:"nameDetailSnapshot,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
}
