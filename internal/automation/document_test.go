package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"instagram-automation/internal/instagram"
	"instagram-automation/internal/models"
)

func TestKeywordMatch(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		keywords []string
		text     string
		want     bool
	}{
		{"any reply matches empty text", ModeAnyReply, nil, "", true},
		{"any reply ignores keywords", ModeAnyReply, []string{"price"}, "hello", true},
		{"case insensitive", ModeSpecificKeywords, []string{"PRICE"}, "what's the price?", true},
		{"substring", ModeSpecificKeywords, []string{"link"}, "sendlinkplease", true},
		{"second keyword", ModeSpecificKeywords, []string{"price", "info"}, "more INFO", true},
		{"no keyword present", ModeSpecificKeywords, []string{"price"}, "hello", false},
		{"empty keyword list never matches", ModeSpecificKeywords, nil, "anything", false},
		{"blank keywords ignored", ModeSpecificKeywords, []string{" ", ""}, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeywordMatch(tt.mode, tt.keywords, tt.text))
		})
	}
}

func TestParseKeywordsFormats(t *testing.T) {
	list, err := parseKeywords([]byte(`[" price ", "", "link"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "link"}, list)

	list, err = parseKeywords([]byte(`"price, link ,"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "link"}, list)

	list, err = parseKeywords(nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = parseKeywords([]byte(`{"a":1}`))
	assert.Error(t, err)
}

func TestParseFlow(t *testing.T) {
	a := models.Automation{
		ID:              "s1",
		Type:            TypeStoryReplyToDM,
		SelectedPostID:  "post",
		SelectedStoryID: "story",
		Keywords:        datatypes.JSON(`["hi"]`),
		Actions: datatypes.JSON(`{
			"openingMessage": {"enabled": true, "text": "Hey", "buttons": [{"label": "Go", "action": "postback"}]},
			"mainMessage": {"text": "Here you go", "buttons": [{"label": "Shop", "link": "shop.example.com"}, {"type": "profile", "title": "Profile"}]}
		}`),
	}
	f, err := ParseFlow(a)
	require.NoError(t, err)
	assert.Equal(t, ModeAnyReply, f.KeywordMode)
	assert.Equal(t, "story", f.ScopeID())
	assert.True(t, f.Actions.openingEnabled())
	assert.False(t, f.Actions.followEnabled())

	main := f.Actions.MainMessage.Buttons
	require.Len(t, main, 2)
	assert.Equal(t, instagram.ButtonURL, main[0].Kind)
	assert.Equal(t, "shop.example.com", main[0].URL)
	assert.Equal(t, instagram.ButtonProfile, main[1].Kind)
}

func TestParseFlowMainMessagePerType(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		main  string
		valid bool
	}{
		{"dm carousel", TypeDMReply, `{"elements": [{"title": "A"}]}`, true},
		{"comment carousel only", TypeCommentToDM, `{"elements": [{"title": "A"}]}`, false},
		{"comment image only", TypeCommentToDM, `{"imageUrl": "https://img.example.com/a.png"}`, false},
		{"comment text", TypeCommentToDM, `{"text": "hi", "elements": [{"title": "A"}]}`, true},
		{"story image only", TypeStoryReplyToDM, `{"imageUrl": "https://img.example.com/a.png"}`, true},
		{"story carousel only", TypeStoryReplyToDM, `{"elements": [{"title": "A"}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFlow(models.Automation{
				ID:      "a",
				Type:    tt.typ,
				Actions: datatypes.JSON(`{"mainMessage": ` + tt.main + `}`),
			})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateActions(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"minimal", `{"mainMessage": {"text": "hi"}}`, true},
		{"carousel", `{"mainMessage": {"elements": [{"title": "A"}]}}`, true},
		{"missing main", `{"openingMessage": {"enabled": true, "text": "x"}}`, false},
		{"empty main", `{"mainMessage": {}}`, false},
		{"too many buttons", `{"mainMessage": {"text": "hi", "buttons": [{"label":"a"},{"label":"b"},{"label":"c"},{"label":"d"}]}}`, false},
		{"delay out of range", `{"mainMessage": {"text": "hi"}, "followUp": {"enabled": true, "text": "x", "delayMinutes": 100000}}`, false},
		{"not json", `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActions([]byte(tt.doc))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEventJobRoundTrip(t *testing.T) {
	ev := Event{Kind: KindComment, AccountID: "a1", SenderID: "u1", CommentID: "c1", ContentID: "p1", Text: "price"}
	job, err := ev.Job(1700)
	require.NoError(t, err)

	again, err := ev.Job(1700)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID, "job id is stable for redeliveries")

	got, err := EventFromJob(job)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestParsePostback(t *testing.T) {
	evt, id, ok := parsePostback("OPENING:auto1")
	assert.True(t, ok)
	assert.Equal(t, EventOpeningClick, evt)
	assert.Equal(t, "auto1", id)

	evt, id, ok = parsePostback("FOLLOW_CONFIRM:auto2")
	assert.True(t, ok)
	assert.Equal(t, EventFollowConfirm, evt)
	assert.Equal(t, "auto2", id)

	_, _, ok = parsePostback("PRICE")
	assert.False(t, ok)
}

func TestTransitionTable(t *testing.T) {
	_, err := transition(StateNone, EventOpeningClick)
	assert.ErrorIs(t, err, ErrNoTransition)
	_, err = transition(StateAwaitingEmail, EventFollowConfirm)
	assert.ErrorIs(t, err, ErrNoTransition)

	for _, s := range []State{StateNone, StateAwaitingOpeningResponse, StateAwaitingFollowConfirmation, StateAwaitingEmail} {
		_, err := transition(s, EventTrigger)
		assert.NoError(t, err, "trigger from %q", s)
	}
}

func TestWithPayload(t *testing.T) {
	got := withPayload(nil, "Go", "OPENING:a")
	require.Len(t, got, 1)
	assert.Equal(t, instagram.ButtonPostback, got[0].Kind)
	assert.Equal(t, "OPENING:a", got[0].Payload)

	full := []instagram.Button{
		{Kind: instagram.ButtonURL, Title: "1", URL: "https://a"},
		{Kind: instagram.ButtonURL, Title: "2", URL: "https://b"},
		{Kind: instagram.ButtonURL, Title: "3", URL: "https://c"},
	}
	got = withPayload(full, "Go", "OPENING:a")
	require.Len(t, got, instagram.MaxButtons)
	assert.Equal(t, "OPENING:a", got[2].Payload)

	mixed := []instagram.Button{{Kind: instagram.ButtonPostback, Title: "Yes", Payload: "x"}}
	got = withPayload(mixed, "Go", "FOLLOW_CONFIRM:a")
	require.Len(t, got, 1)
	assert.Equal(t, "Yes", got[0].Title)
	assert.Equal(t, "FOLLOW_CONFIRM:a", got[0].Payload)
}
