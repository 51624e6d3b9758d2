// Package domain contains core domain types for the naming flow.
package domain

import (
	"maps"
	"slices"
	"time"
)

// Gender of the subject being named.
type Gender string

const (
	GenderBoy     Gender = "boy"
	GenderGirl    Gender = "girl"
	GenderUnknown Gender = "unknown"
)

// Valid reports whether g is a known gender.
func (g Gender) Valid() bool {
	switch g {
	case GenderBoy, GenderGirl, GenderUnknown:
		return true
	}
	return false
}

// Label returns the short label used in user echoes (男/女/未知).
func (g Gender) Label() string {
	switch g {
	case GenderBoy:
		return "男"
	case GenderGirl:
		return "女"
	default:
		return "未知"
	}
}

// Noun returns the noun the agent uses for the subject (男孩/女孩/宝宝).
func (g Gender) Noun() string {
	switch g {
	case GenderBoy:
		return "男孩"
	case GenderGirl:
		return "女孩"
	default:
		return "宝宝"
	}
}

// SubjectInfo is what the user tells us about the baby.
type SubjectInfo struct {
	Surname       string `json:"surname"`
	Gender        Gender `json:"gender"`
	BirthDate     string `json:"birthDate"`
	BirthTime     string `json:"birthTime,omitempty"`
	BirthLocation string `json:"birthLocation,omitempty"`
}

// PlaceholderSubject is stored on sessions created before real info arrives.
func PlaceholderSubject() SubjectInfo {
	return SubjectInfo{Gender: GenderUnknown}
}

// OptionalDetails carries the extra naming constraints of the optional step.
type OptionalDetails struct {
	Skip            bool     `json:"skip"`
	TabooWords      []string `json:"tabooWords,omitempty"`
	GenerationWord  string   `json:"generationWord,omitempty"`
	FavoriteImagery []string `json:"favoriteImagery,omitempty"`
}

// BabySession is one naming engagement for one subject.
type BabySession struct {
	ID                  string              `json:"id"`
	SubjectInfo         SubjectInfo         `json:"subjectInfo"`
	Messages            []ChatMessage       `json:"messages"`
	CurrentStep         Step                `json:"currentStep"`
	PreferenceStyle     string              `json:"preferenceStyle,omitempty"`
	OptionalDetails     *OptionalDetails    `json:"optionalDetails,omitempty"`
	SelectedDirectionID string              `json:"selectedDirectionId,omitempty"`
	NameCursor          map[string]int      `json:"nameCursor"`
	SelectedName        string              `json:"selectedName,omitempty"`
	NumerologySnapshot  *NumerologySnapshot `json:"numerologySnapshot,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// NewBabySession returns a session in the welcome step.
func NewBabySession(id string, info SubjectInfo, now time.Time) *BabySession {
	return &BabySession{
		ID:          id,
		SubjectInfo: info,
		Messages:    []ChatMessage{},
		CurrentStep: StepWelcome,
		NameCursor:  map[string]int{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendMessage adds a turn to the end of the transcript.
func (s *BabySession) AppendMessage(m ChatMessage) {
	s.Messages = append(s.Messages, m)
}

// Cursor returns the cursor for a direction, zero when unset.
func (s *BabySession) Cursor(directionID string) int {
	return s.NameCursor[directionID]
}

// Clone returns a deep copy. Messages are immutable once appended, so the
// message slice is copied but cards are shared.
func (s *BabySession) Clone() *BabySession {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = slices.Clone(s.Messages)
	if c.Messages == nil {
		c.Messages = []ChatMessage{}
	}
	c.NameCursor = maps.Clone(s.NameCursor)
	if c.NameCursor == nil {
		c.NameCursor = map[string]int{}
	}
	if s.OptionalDetails != nil {
		d := *s.OptionalDetails
		d.TabooWords = slices.Clone(d.TabooWords)
		d.FavoriteImagery = slices.Clone(d.FavoriteImagery)
		c.OptionalDetails = &d
	}
	if s.NumerologySnapshot != nil {
		n := s.NumerologySnapshot.Clone()
		c.NumerologySnapshot = &n
	}
	return &c
}
