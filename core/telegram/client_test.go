package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/inboxbot/core/secrets"
	"github.com/m3rciful/inboxbot/core/telegram/keyboard"
)

type apiCall struct {
	Method string
	Token  string
	Params map[string]any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	fail  map[string]bool
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{fail: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	// path: /bot<token>/<method>
	rest := strings.TrimPrefix(r.URL.Path, "/bot")
	token, method, _ := strings.Cut(rest, "/")
	params := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Token: token, Params: params})
	fail := f.fail[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	}
	switch method {
	case MethodSendMessage, MethodEditMessage:
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`))
	case MethodGetUpdates:
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":5,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"/start"}}]}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestClient(url string, p secrets.Provider, observe func(string, string)) *Client {
	return NewClient(ClientOptions{
		Secrets:    p,
		SecretName: "/email-bot/telegram",
		APIURL:     url,
		HTTPClient: BuildHTTPClient(HTTPOptions{}),
		Observe:    observe,
	})
}

func TestSendMessageHTMLWithKeyboard(t *testing.T) {
	api, srv := newFakeAPI(t)
	var observed []string
	c := newTestClient(srv.URL, secrets.Static(`{"bot_token":"123:abc"}`), func(m, s string) {
		observed = append(observed, m+"="+s)
	})

	id, err := c.SendMessage(context.Background(), 42, "<b>hi</b>", SendOptions{HTML: true, Markup: keyboard.ConfirmDeactivate("a@x")})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 7 {
		t.Fatalf("message id = %d", id)
	}
	calls := api.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	got := calls[0]
	if got.Method != MethodSendMessage || got.Token != "123:abc" {
		t.Fatalf("call = %+v", got)
	}
	if got.Params["chat_id"] != "42" || got.Params["text"] != "<b>hi</b>" || got.Params["parse_mode"] != "HTML" {
		t.Fatalf("params = %+v", got.Params)
	}
	if rm, _ := got.Params["reply_markup"].(string); !strings.Contains(rm, "confirm_deactivate|a@x") {
		t.Fatalf("reply_markup = %v", got.Params["reply_markup"])
	}
	if len(observed) != 1 || observed[0] != "sendMessage=ok" {
		t.Fatalf("observed = %v", observed)
	}
}

func TestTokenFetchedPerCall(t *testing.T) {
	api, srv := newFakeAPI(t)
	p := &rotatingProvider{tokens: []string{"1:first", "2:second"}}
	c := newTestClient(srv.URL, p, nil)
	ctx := context.Background()
	if err := c.AnswerCallback(ctx, "cb1", "Cancelled"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := c.EditMessage(ctx, 42, 9, "done", SendOptions{}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	calls := api.Calls()
	if len(calls) != 2 || calls[0].Token != "1:first" || calls[1].Token != "2:second" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Params["callback_query_id"] != "cb1" || calls[0].Params["text"] != "Cancelled" {
		t.Fatalf("answer params = %+v", calls[0].Params)
	}
	if calls[1].Params["message_id"] != "9" {
		t.Fatalf("edit params = %+v", calls[1].Params)
	}
}

func TestAPIErrorWrapped(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.fail[MethodSendMessage] = true
	var status string
	c := newTestClient(srv.URL, secrets.Static("1:x"), func(_, s string) { status = s })
	_, err := c.SendMessage(context.Background(), 42, "hi", SendOptions{})
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("err = %v, want ErrAPI", err)
	}
	if status != "error" {
		t.Fatalf("status = %q", status)
	}
}

func TestMissingSecretIsNotAPIError(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(srv.URL, secrets.Static(""), nil)
	_, err := c.SendMessage(context.Background(), 42, "hi", SendOptions{})
	if !errors.Is(err, secrets.ErrNotFound) {
		t.Fatalf("err = %v, want secrets.ErrNotFound", err)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("no API call expected without a token")
	}
}

func TestRegisterSetsWebhookAndCommands(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(srv.URL, secrets.Static("1:x"), nil)
	err := Register(context.Background(), c, RegisterOptions{
		Webhook:  WebhookOptions{URL: "https://bot.example.org/", Path: "/telegram/webhook", SecretToken: "s3"},
		Registry: testRegistry(),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	calls := api.Calls()
	if len(calls) != 2 || calls[0].Method != MethodSetWebhook || calls[1].Method != MethodSetCommands {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Params["url"] != "https://bot.example.org/telegram/webhook" || calls[0].Params["secret_token"] != "s3" {
		t.Fatalf("setWebhook params = %+v", calls[0].Params)
	}
}

func TestGetUpdates(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(srv.URL, secrets.Static("1:x"), nil)
	updates, err := c.GetUpdates(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if len(updates) != 1 || updates[0].ID != 5 || updates[0].Message == nil || updates[0].Message.Text != "/start" {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		opts WebhookOptions
		want string
	}{
		{WebhookOptions{URL: "https://x.org", Path: "/hook"}, "https://x.org/hook"},
		{WebhookOptions{URL: "https://x.org/hook", Path: "/hook"}, "https://x.org/hook"},
		{WebhookOptions{URL: "https://x.org/", Path: ""}, "https://x.org"},
	}
	for _, tt := range tests {
		if got := tt.opts.PublicURL(); got != tt.want {
			t.Fatalf("PublicURL(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

type rotatingProvider struct {
	mu     sync.Mutex
	tokens []string
	i      int
}

func (p *rotatingProvider) Secret(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok := p.tokens[p.i%len(p.tokens)]
	p.i++
	return tok, nil
}
