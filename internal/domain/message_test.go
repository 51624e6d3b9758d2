package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageCardUnion(t *testing.T) {
	detail := &NameDetail{Name: "沐泽", Pinyin: "mù zé", Score: 91}
	msg := ChatMessage{
		ID:        "m1",
		Speaker:   SpeakerAgent,
		Text:      "好的！",
		CreatedAt: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
		Card:      CandidateCard{DirectionID: "poetic", Name: "沐泽", Cursor: 0, Detail: detail},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "candidate", raw["cardKind"])
	assert.Contains(t, raw, "cardPayload")

	var got ChatMessage
	require.NoError(t, json.Unmarshal(data, &got))

	card, ok := got.Card.(CandidateCard)
	require.True(t, ok, "expected CandidateCard, got %T", got.Card)
	assert.Equal(t, "poetic", card.DirectionID)
	require.NotNil(t, card.Detail)
	assert.Equal(t, 91, card.Detail.Score)
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))
}

func TestChatMessageWithoutCard(t *testing.T) {
	data, err := json.Marshal(ChatMessage{ID: "u1", Speaker: SpeakerUser, Text: "跳过"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "cardKind")

	var got ChatMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Nil(t, got.Card)
	assert.Equal(t, "跳过", got.Text)
}

func TestChatMessageEmptyPayloadCards(t *testing.T) {
	for _, card := range []Card{SubjectInfoCard{}, OptionalDetailsCard{}} {
		data, err := json.Marshal(ChatMessage{ID: "a", Speaker: SpeakerAgent, Card: card})
		require.NoError(t, err)

		var got ChatMessage
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, card, got.Card)
	}
}

func TestChatMessageUnknownCardKind(t *testing.T) {
	var got ChatMessage
	err := json.Unmarshal([]byte(`{"id":"x","speaker":"agent","text":"","cardKind":"hologram"}`), &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCardKind))
}

func TestBabySessionCloneIsDeep(t *testing.T) {
	s := NewBabySession("s1", PlaceholderSubject(), time.Now())
	s.NameCursor["poetic"] = 1
	s.AppendMessage(ChatMessage{ID: "m1"})

	c := s.Clone()
	c.NameCursor["poetic"] = 2
	c.AppendMessage(ChatMessage{ID: "m2"})

	assert.Equal(t, 1, s.Cursor("poetic"))
	assert.Len(t, s.Messages, 1)
	assert.Len(t, c.Messages, 2)
}

func TestGenderTexts(t *testing.T) {
	assert.Equal(t, "男", GenderBoy.Label())
	assert.Equal(t, "女孩", GenderGirl.Noun())
	assert.Equal(t, "宝宝", Gender("").Noun())
	assert.Equal(t, "未知", GenderUnknown.Label())
}
