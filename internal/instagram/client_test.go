package instagram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"example.com/x":          "https://example.com/x",
		"https://example.com/x":  "https://example.com/x",
		"http://example.com/x":   "https://example.com/x",
		"HTTPS://Example.com":    "HTTPS://Example.com",
		"  shop.example.com/a  ": "https://shop.example.com/a",
		"//cdn.example.com/i":    "https://cdn.example.com/i",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), in)
	}
}

func TestButtonDecodeShapes(t *testing.T) {
	var buttons []Button
	raw := `[
		{"type":"web_url","title":"Shop","url":"shop.example.com"},
		{"type":"postback","title":"Yes","payload":"YES"},
		{"label":"Visit","link":"example.com/p","action":"url"},
		{"label":"Follow me","action":"profile"},
		{"label":"Send it"},
		{"label":"Docs","link":"docs.example.com"}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &buttons))
	require.Len(t, buttons, 6)

	assert.Equal(t, Button{Kind: ButtonURL, Title: "Shop", URL: "shop.example.com"}, buttons[0])
	assert.Equal(t, Button{Kind: ButtonPostback, Title: "Yes", Payload: "YES"}, buttons[1])
	assert.Equal(t, Button{Kind: ButtonURL, Title: "Visit", URL: "example.com/p"}, buttons[2])
	assert.Equal(t, Button{Kind: ButtonProfile, Title: "Follow me"}, buttons[3])
	assert.Equal(t, Button{Kind: ButtonPostback, Title: "Send it", Payload: "Send it"}, buttons[4])
	assert.Equal(t, ButtonURL, buttons[5].Kind)

	var bad Button
	assert.Error(t, json.Unmarshal([]byte(`{"type":"phone_number","title":"x"}`), &bad))
}

func TestButtonMarshalIsCanonical(t *testing.T) {
	raw, err := json.Marshal(Button{Kind: ButtonURL, Title: "Go", URL: "example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"web_url","title":"Go","url":"example.com"}`, string(raw))

	var back Button
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ButtonURL, back.Kind)
}

func TestProviderButtons(t *testing.T) {
	pbs, err := providerButtons([]Button{
		{Kind: ButtonURL, Title: "a", URL: "example.com/x"},
		{Kind: ButtonProfile, Title: "b"},
		{Kind: ButtonPostback, Title: "c"},
		{Kind: ButtonPostback, Title: "dropped"},
	}, "brand")
	require.NoError(t, err)
	require.Len(t, pbs, MaxButtons)
	assert.Equal(t, "https://example.com/x", pbs[0].URL)
	assert.Equal(t, "web_url", pbs[1].Type)
	assert.Equal(t, "https://www.instagram.com/brand", pbs[1].URL)
	assert.Equal(t, "c", pbs[2].Payload)

	_, err = providerButtons([]Button{{Kind: ButtonProfile, Title: "b"}}, "")
	assert.Error(t, err)
}

type capture struct {
	hits int32
	body atomic.Value
	path atomic.Value
	auth atomic.Value
}

func server(t *testing.T, status int, reply string, c *capture) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&c.hits, 1)
		b, _ := io.ReadAll(r.Body)
		c.body.Store(string(b))
		c.path.Store(r.URL.Path + "?" + r.URL.RawQuery)
		c.auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var from = Sender{AccountID: "1784", AccessToken: "tok", Username: "brand"}

func TestSendUsesPrimaryHost(t *testing.T) {
	var p, f capture
	primary := server(t, http.StatusOK, `{"message_id":"m1"}`, &p)
	fallback := server(t, http.StatusOK, `{}`, &f)

	c := NewClient(primary.URL, fallback.URL, time.Second)
	require.NoError(t, c.SendText(context.Background(), from, Recipient{ID: "u1"}, "hello"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&p.hits))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.hits))
	assert.Equal(t, "/1784/messages?", p.path.Load())
	assert.Equal(t, "Bearer tok", p.auth.Load())
	assert.JSONEq(t, `{"recipient":{"id":"u1"},"message":{"text":"hello"}}`, p.body.Load().(string))
}

func TestSendFallsBackOnce(t *testing.T) {
	var p, f capture
	primary := server(t, http.StatusInternalServerError, `{"error":"x"}`, &p)
	fallback := server(t, http.StatusOK, `{}`, &f)

	c := NewClient(primary.URL, fallback.URL, time.Second)
	require.NoError(t, c.SendText(context.Background(), from, Recipient{ID: "u1"}, "hello"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.hits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.hits))
}

func TestSendFailsAfterTwoHosts(t *testing.T) {
	var p, f capture
	primary := server(t, http.StatusBadRequest, `{}`, &p)
	fallback := server(t, http.StatusBadGateway, `{}`, &f)

	c := NewClient(primary.URL, fallback.URL, time.Second)
	err := c.SendText(context.Background(), from, Recipient{ID: "u1"}, "hello")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.hits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.hits))
}

func TestButtonTemplatePayload(t *testing.T) {
	var p capture
	primary := server(t, http.StatusOK, `{}`, &p)
	c := NewClient(primary.URL, "", time.Second)

	err := c.SendButtons(context.Background(), from, Recipient{CommentID: "c9"}, "Pick one", []Button{
		{Kind: ButtonURL, Title: "Shop", URL: "example.com/x"},
		{Kind: ButtonPostback, Title: "More", Payload: "OPENING:a1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"recipient":{"comment_id":"c9"},
		"message":{"attachment":{"type":"template","payload":{
			"template_type":"button","text":"Pick one",
			"buttons":[
				{"type":"web_url","title":"Shop","url":"https://example.com/x"},
				{"type":"postback","title":"More","payload":"OPENING:a1"}
			]}}}
	}`, p.body.Load().(string))
}

func TestGenericTemplatePayload(t *testing.T) {
	var p capture
	primary := server(t, http.StatusOK, `{}`, &p)
	c := NewClient(primary.URL, "", time.Second)

	n, err := c.Send(context.Background(), from, Recipient{ID: "u1"}, Message{
		Elements: []Element{{Title: "Card", ImageURL: "img.example.com/a.png", URL: "example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(p.body.Load().(string)), &body))
	payload := body["message"].(map[string]interface{})["attachment"].(map[string]interface{})["payload"].(map[string]interface{})
	assert.Equal(t, "generic", payload["template_type"])
	el := payload["elements"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "https://img.example.com/a.png", el["image_url"])
}

func TestSendImageThenText(t *testing.T) {
	var p capture
	primary := server(t, http.StatusOK, `{}`, &p)
	c := NewClient(primary.URL, "", time.Second)

	n, err := c.Send(context.Background(), from, Recipient{ID: "u1"}, Message{Text: "hi", ImageURL: "example.com/a.png"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.hits))

	n, err = c.Send(context.Background(), from, Recipient{CommentID: "c1"}, Message{Text: "hi", ImageURL: "example.com/a.png"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReactionAndCommentReply(t *testing.T) {
	var p capture
	primary := server(t, http.StatusOK, `{}`, &p)
	c := NewClient(primary.URL, "", time.Second)

	require.NoError(t, c.React(context.Background(), from, Recipient{ID: "u1"}, "mid.1", ""))
	assert.JSONEq(t, `{"recipient":{"id":"u1"},"sender_action":"react","payload":{"message_id":"mid.1","reaction":"love"}}`, p.body.Load().(string))

	require.NoError(t, c.ReplyToComment(context.Background(), from, "c77", "Check your DMs"))
	assert.Equal(t, "/c77/replies?", p.path.Load())
	assert.JSONEq(t, `{"message":"Check your DMs"}`, p.body.Load().(string))
}

func TestProfile(t *testing.T) {
	var p capture
	primary := server(t, http.StatusOK, `{"id":"u1","username":"jane","is_user_follow_business":true}`, &p)
	c := NewClient(primary.URL, "", time.Second)

	prof, err := c.Profile(context.Background(), from, "u1")
	require.NoError(t, err)
	assert.Equal(t, "jane", prof.Username)
	assert.True(t, prof.IsUserFollowBusiness)
	assert.Equal(t, "/u1?fields=username%2Cis_user_follow_business", p.path.Load())
}
