package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Speaker identifies who produced a chat turn.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

// CardKind tags the interactive component embedded in a turn.
type CardKind string

const (
	CardKindSubjectInfo     CardKind = "subjectInfo"
	CardKindPreference      CardKind = "preference"
	CardKindOptionalDetails CardKind = "optionalDetails"
	CardKindProfile         CardKind = "profile"
	CardKindDirections      CardKind = "directions"
	CardKindCandidate       CardKind = "candidate"
	CardKindCompletion      CardKind = "completion"
)

// ErrUnknownCardKind is returned when decoding a message with an unrecognised card tag.
var ErrUnknownCardKind = errors.New("unknown card kind")

// Card is the closed set of interactive components a turn can carry.
// Presentation code dispatches on the concrete type.
type Card interface {
	Kind() CardKind
	card()
}

// SubjectInfoCard asks for the baby's surname, gender and birth data.
type SubjectInfoCard struct{}

// StyleOption is one choice offered by the preference card.
type StyleOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PreferenceCard asks for the naming style.
type PreferenceCard struct {
	Options []StyleOption `json:"options"`
}

// OptionalDetailsCard asks for taboo words, generation word and imagery.
type OptionalDetailsCard struct{}

// ProfileCard shows the numerology chart and element analysis.
type ProfileCard struct {
	Chart    Chart           `json:"chart"`
	Elements ElementAnalysis `json:"elements"`
}

// DirectionsCard lists the naming directions to choose from.
type DirectionsCard struct {
	Directions []NameDirection `json:"directions"`
}

// CandidateCard shows one candidate name. Detail is nil when the catalog
// has no entry for Name.
type CandidateCard struct {
	DirectionID string      `json:"directionId"`
	Name        string      `json:"name"`
	Cursor      int         `json:"cursor"`
	Detail      *NameDetail `json:"detail,omitempty"`
}

// CompletionCard closes the conversation with the confirmed name.
type CompletionCard struct {
	Name string `json:"name"`
}

func (SubjectInfoCard) Kind() CardKind     { return CardKindSubjectInfo }
func (PreferenceCard) Kind() CardKind      { return CardKindPreference }
func (OptionalDetailsCard) Kind() CardKind { return CardKindOptionalDetails }
func (ProfileCard) Kind() CardKind         { return CardKindProfile }
func (DirectionsCard) Kind() CardKind      { return CardKindDirections }
func (CandidateCard) Kind() CardKind       { return CardKindCandidate }
func (CompletionCard) Kind() CardKind      { return CardKindCompletion }

func (SubjectInfoCard) card()     {}
func (PreferenceCard) card()      {}
func (OptionalDetailsCard) card() {}
func (ProfileCard) card()         {}
func (DirectionsCard) card()      {}
func (CandidateCard) card()       {}
func (CompletionCard) card()      {}

// ChatMessage is one turn of the conversation. Immutable once appended.
type ChatMessage struct {
	ID        string
	Speaker   Speaker
	Text      string
	CreatedAt time.Time
	Card      Card
}

type wireMessage struct {
	ID          string          `json:"id"`
	Speaker     Speaker         `json:"speaker"`
	Text        string          `json:"text"`
	CreatedAt   time.Time       `json:"createdAt"`
	CardKind    CardKind        `json:"cardKind,omitempty"`
	CardPayload json.RawMessage `json:"cardPayload,omitempty"`
}

// MarshalJSON encodes the card as a cardKind tag plus cardPayload.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		Speaker:   m.Speaker,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
	if m.Card != nil {
		payload, err := json.Marshal(m.Card)
		if err != nil {
			return nil, fmt.Errorf("marshal %s card: %w", m.Card.Kind(), err)
		}
		w.CardKind = m.Card.Kind()
		w.CardPayload = payload
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged card back into its concrete type.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	card, err := decodeCard(w.CardKind, w.CardPayload)
	if err != nil {
		return err
	}
	*m = ChatMessage{
		ID:        w.ID,
		Speaker:   w.Speaker,
		Text:      w.Text,
		CreatedAt: w.CreatedAt,
		Card:      card,
	}
	return nil
}

func decodeCard(kind CardKind, payload json.RawMessage) (Card, error) {
	if kind == "" {
		return nil, nil
	}
	var card Card
	switch kind {
	case CardKindSubjectInfo:
		return SubjectInfoCard{}, nil
	case CardKindOptionalDetails:
		return OptionalDetailsCard{}, nil
	case CardKindPreference:
		var c PreferenceCard
		if err := unmarshalPayload(payload, &c); err != nil {
			return nil, err
		}
		card = c
	case CardKindProfile:
		var c ProfileCard
		if err := unmarshalPayload(payload, &c); err != nil {
			return nil, err
		}
		card = c
	case CardKindDirections:
		var c DirectionsCard
		if err := unmarshalPayload(payload, &c); err != nil {
			return nil, err
		}
		card = c
	case CardKindCandidate:
		var c CandidateCard
		if err := unmarshalPayload(payload, &c); err != nil {
			return nil, err
		}
		card = c
	case CardKindCompletion:
		var c CompletionCard
		if err := unmarshalPayload(payload, &c); err != nil {
			return nil, err
		}
		card = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCardKind, kind)
	}
	return card, nil
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode card payload: %w", err)
	}
	return nil
}
