package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/mcbot/internal/chat"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

// fakeAPI is a minimal Bot API: getMe, getUpdates (served once), and
// recording of every other method.
type fakeAPI struct {
	mu      sync.Mutex
	updates string
	served  bool
	calls   map[string][]map[string]string
	offsets []string
}

func newFakeAPI(t *testing.T, updates string) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{updates: updates, calls: map[string][]map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	return api, srv.URL + "/bot%s/%s"
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := map[string]string{}
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}

	a.mu.Lock()
	a.calls[method] = append(a.calls[method], params)
	result := `true`
	switch method {
	case "getMe":
		result = `{"id":1,"is_bot":true,"first_name":"mcbot","username":"mcbot_bot"}`
	case "getUpdates":
		a.offsets = append(a.offsets, params["offset"])
		result = `[]`
		if !a.served {
			a.served = true
			result = a.updates
		}
	case "sendMessage":
		result = `{"message_id":77,"date":0,"chat":{"id":5,"type":"group"}}`
	}
	a.mu.Unlock()

	if method == "getUpdates" && result == `[]` {
		time.Sleep(20 * time.Millisecond)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func (a *fakeAPI) get(method string) []map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]string(nil), a.calls[method]...)
}

type recorder struct {
	mu        sync.Mutex
	messages  []chat.Message
	callbacks []chat.Callback
}

func (r *recorder) OnChatMessage(_ context.Context, msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) OnCallback(_ context.Context, cb chat.Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), len(r.callbacks)
}

const updates = `[
 {"update_id":10,"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"group"},"from":{"id":9,"is_bot":false,"first_name":"Alice","username":"alice"},"text":"/status_server"}},
 {"update_id":11,"message":{"message_id":2,"date":0,"chat":{"id":6,"type":"group"},"from":{"id":9,"is_bot":false,"first_name":"Alice"},"text":"/status_server"}},
 {"update_id":12,"message":{"message_id":3,"date":0,"chat":{"id":5,"type":"group"},"from":{"id":8,"is_bot":false,"first_name":"Bob"},"text":"hi"}},
 {"update_id":13,"callback_query":{"id":"cb1","from":{"id":9,"is_bot":false,"first_name":"Alice"},"data":"bridge:enable","message":{"message_id":4,"date":0,"chat":{"id":5,"type":"group"}}}}
]`

func TestRunDeliversConfiguredChats(t *testing.T) {
	api, endpoint := newFakeAPI(t, updates)
	offsets := chat.NewMemoryOffsetStore()
	tr, err := New(Config{Token: "tok", APIEndpoint: endpoint, PollTimeout: time.Second, Chats: []int64{5}}, offsets, logger.Nop())
	require.NoError(t, err)

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, rec) }()

	assert.Eventually(t, func() bool {
		m, c := rec.counts()
		return m == 2 && c == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, tr.Polled())

	cancel()
	require.NoError(t, <-done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	byID := map[int]chat.Message{}
	for _, m := range rec.messages {
		byID[m.MessageID] = m
	}
	assert.Equal(t, "alice", byID[1].AuthorDisplayName)
	assert.Equal(t, "Bob", byID[3].AuthorDisplayName, "first name when there is no username")
	assert.NotEmpty(t, byID[1].RequestID)
	assert.Equal(t, "bridge:enable", rec.callbacks[0].Data)
	assert.Equal(t, 4, rec.callbacks[0].Message.MessageID)

	saved, err := offsets.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 14, saved)

	polls := api.get("getUpdates")
	require.NotEmpty(t, polls)
	assert.Equal(t, `["message","callback_query"]`, polls[0]["allowed_updates"])
}

func TestRunResumesFromStoredOffset(t *testing.T) {
	api, endpoint := newFakeAPI(t, `[]`)
	offsets := chat.NewMemoryOffsetStore()
	require.NoError(t, offsets.Save(context.Background(), 500))

	tr, err := New(Config{Token: "tok", APIEndpoint: endpoint, PollTimeout: time.Second}, offsets, logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, &recorder{}) }()
	assert.Eventually(t, tr.Polled, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "500", api.get("getUpdates")[0]["offset"])
}

func TestSendRendersReply(t *testing.T) {
	api, endpoint := newFakeAPI(t, `[]`)
	tr, err := New(Config{Token: "tok", APIEndpoint: endpoint}, chat.NewMemoryOffsetStore(), logger.Nop())
	require.NoError(t, err)

	id, err := tr.Send(context.Background(), chat.Reply{
		ChatID:  5,
		ReplyTo: 3,
		Text:    "Alice: hello",
		Bold:    []chat.Span{{Offset: 0, Length: 5}},
		Buttons: []chat.Button{{Text: "Activate", Data: "bridge:enable"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 77, id)

	sent := api.get("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "5", sent[0]["chat_id"])
	assert.Equal(t, "3", sent[0]["reply_to_message_id"])
	assert.Equal(t, "Alice: hello", sent[0]["text"])

	var entities []map[string]any
	require.NoError(t, json.Unmarshal([]byte(sent[0]["entities"]), &entities))
	require.Len(t, entities, 1)
	assert.Equal(t, "bold", entities[0]["type"])
	assert.EqualValues(t, 5, entities[0]["length"])
	assert.Contains(t, sent[0]["reply_markup"], `"callback_data":"bridge:enable"`)
}

func TestCallbackHelpers(t *testing.T) {
	api, endpoint := newFakeAPI(t, `[]`)
	tr, err := New(Config{Token: "tok", APIEndpoint: endpoint}, chat.NewMemoryOffsetStore(), logger.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.ClearButtons(context.Background(), 5, 4))
	require.NoError(t, tr.AnswerCallback(context.Background(), "cb1", ""))

	edits := api.get("editMessageReplyMarkup")
	require.Len(t, edits, 1)
	assert.Equal(t, "4", edits[0]["message_id"])
	assert.Equal(t, `{"inline_keyboard":[]}`, edits[0]["reply_markup"])
	assert.Equal(t, "cb1", api.get("answerCallbackQuery")[0]["callback_query_id"])
}
