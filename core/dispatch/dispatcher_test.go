package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/m3rciful/inboxbot/core/address"
	"github.com/m3rciful/inboxbot/core/metrics"
	"github.com/m3rciful/inboxbot/core/store/memory"
	"github.com/m3rciful/inboxbot/core/telegram"
)

const testDomain = "x.test"

type sent struct {
	Method    string
	ChatID    int64
	MessageID int
	Text      string
	Opts      telegram.SendOptions
}

type fakeMessenger struct {
	mu       sync.Mutex
	calls    []sent
	failEdit bool
	failAll  bool
}

func (f *fakeMessenger) record(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || (f.failEdit && s.Method == telegram.MethodEditMessage) {
		return fmt.Errorf("%s: %w", s.Method, telegram.ErrAPI)
	}
	f.calls = append(f.calls, s)
	return nil
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error) {
	return 100, f.record(sent{Method: telegram.MethodSendMessage, ChatID: chatID, Text: text, Opts: opts})
}

func (f *fakeMessenger) EditMessage(_ context.Context, chatID int64, messageID int, text string, opts telegram.SendOptions) error {
	return f.record(sent{Method: telegram.MethodEditMessage, ChatID: chatID, MessageID: messageID, Text: text, Opts: opts})
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, callbackID, text string) error {
	return f.record(sent{Method: telegram.MethodAnswerCallback, Text: text})
}

func (f *fakeMessenger) Calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

type fixture struct {
	d       *Dispatcher
	store   *memory.Store
	msgr    *fakeMessenger
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...func(*address.Options)) *fixture {
	t.Helper()
	st := memory.New()
	m := metrics.New(prometheus.NewRegistry())
	aopts := address.Options{
		Domain:        testDomain,
		MaxAttempts:   3,
		OnCollision:   m.ObserveCollision,
		OnDeactivated: func(string) { m.AddressesDeactivated.Inc() },
	}
	for _, o := range opts {
		o(&aopts)
	}
	msgr := &fakeMessenger{}
	d, err := New(Options{Addresses: address.NewService(st, aopts), Messenger: msgr, Metrics: m})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &fixture{d: d, store: st, msgr: msgr, metrics: m}
}

func body(s string) Event { return Event{Body: &s} }

func messageUpdate(chatID int64, text string) Event {
	return body(fmt.Sprintf(`{"update_id":1,"message":{"message_id":10,"date":0,"chat":{"id":%d,"type":"private"},"from":{"id":%d,"is_bot":false,"first_name":"u"},"text":%q}}`, chatID, chatID, text))
}

func callbackUpdate(userID int64, data string) Event {
	return body(fmt.Sprintf(`{"update_id":2,"callback_query":{"id":"cb-1","from":{"id":%d,"is_bot":false,"first_name":"u"},"message":{"message_id":55,"date":0,"chat":{"id":%d,"type":"private"},"text":"old"},"chat_instance":"ci","data":%q}}`, userID, userID, data))
}

func mustHandle(t *testing.T, d *Dispatcher, ev Event) Response {
	t.Helper()
	resp, err := d.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	return resp
}

func TestMissingBody(t *testing.T) {
	f := newFixture(t)
	for _, ev := range []Event{{}, body("")} {
		resp := mustHandle(t, f.d, ev)
		if resp.StatusCode != http.StatusBadRequest || resp.Body != BodyNoBody {
			t.Fatalf("resp = %+v", resp)
		}
	}
	if n := len(f.msgr.Calls()); n != 0 {
		t.Fatalf("outbound calls = %d", n)
	}
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	if _, err := f.d.Handle(context.Background(), body("{not json")); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("err = %v, want ErrMalformedUpdate", err)
	}
	if _, err := f.d.Handle(context.Background(), body(`{"update_id":3,"message":{"message_id":1,"text":"/start"}}`)); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("chatless err = %v, want ErrMalformedUpdate", err)
	}
	if n := len(f.msgr.Calls()); n != 0 {
		t.Fatalf("outbound calls = %d", n)
	}
}

func TestIgnoredUpdate(t *testing.T) {
	f := newFixture(t)
	resp := mustHandle(t, f.d, body(`{"update_id":9,"edited_message":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
	if resp.StatusCode != http.StatusOK || resp.Body != "" {
		t.Fatalf("resp = %+v", resp)
	}
	if n := len(f.msgr.Calls()); n != 0 {
		t.Fatalf("outbound calls = %d", n)
	}
	if got := testutil.ToFloat64(f.metrics.UpdatesTotal.WithLabelValues("other")); got != 1 {
		t.Fatalf("updates{other} = %v", got)
	}
}

func TestStartAndUnknown(t *testing.T) {
	tests := []struct {
		text, want string
	}{
		{"/start", msgWelcome},
		{"  /START now", msgWelcome},
		{"hello", msgUnknown},
		{"", msgUnknown},
	}
	for _, tt := range tests {
		f := newFixture(t)
		resp := mustHandle(t, f.d, messageUpdate(42, tt.text))
		if resp.StatusCode != http.StatusOK || resp.Body != BodyOK {
			t.Fatalf("%q: resp = %+v", tt.text, resp)
		}
		calls := f.msgr.Calls()
		if len(calls) != 1 || calls[0].Text != tt.want || calls[0].ChatID != 42 {
			t.Fatalf("%q: calls = %+v", tt.text, calls)
		}
	}
}

func TestNewCreatesAddress(t *testing.T) {
	f := newFixture(t)
	resp := mustHandle(t, f.d, messageUpdate(42, "/NEW"))
	if resp.StatusCode != http.StatusOK || resp.Body != BodyCreated {
		t.Fatalf("resp = %+v", resp)
	}
	if f.store.Len() != 1 {
		t.Fatalf("records = %d, want 1", f.store.Len())
	}
	recs, _ := f.store.ListByOwner(context.Background(), "42")
	rec := recs[0]
	if !regexp.MustCompile(`^[0-9a-f]{10}@x\.test$`).MatchString(rec.EmailAddress) {
		t.Fatalf("address = %q", rec.EmailAddress)
	}
	if !rec.Active || rec.UsageCount != 0 {
		t.Fatalf("record = %+v", rec)
	}
	calls := f.msgr.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	want := "✅ Created address: <b>" + rec.EmailAddress + "</b>\n\nForward emails you want summarized to this address.\n\nUse /list to see and manage your addresses."
	if calls[0].Text != want || !calls[0].Opts.HTML {
		t.Fatalf("confirmation = %+v", calls[0])
	}
	if got := testutil.ToFloat64(f.metrics.AddressesCreated); got != 1 {
		t.Fatalf("created counter = %v", got)
	}
}

func TestNewExhausted(t *testing.T) {
	f := newFixture(t, func(o *address.Options) { o.LocalPart = func() string { return "aaaaaaaaaa" } })
	f.store.Put(address.Record{EmailAddress: "aaaaaaaaaa@" + testDomain, TelegramUserID: "7", Active: true})

	resp := mustHandle(t, f.d, messageUpdate(42, "/new"))
	if resp.StatusCode != http.StatusOK || resp.Body != BodyExhausted {
		t.Fatalf("resp = %+v", resp)
	}
	calls := f.msgr.Calls()
	if len(calls) != 1 || calls[0].Text != msgExhausted {
		t.Fatalf("calls = %+v", calls)
	}
	if got := testutil.ToFloat64(f.metrics.AddressCollisions); got != 3 {
		t.Fatalf("collisions = %v, want 3", got)
	}
	if f.store.Len() != 1 {
		t.Fatalf("records = %d", f.store.Len())
	}
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)
	resp := mustHandle(t, f.d, messageUpdate(42, "/list"))
	if resp.Body != BodyNoAddresses {
		t.Fatalf("resp = %+v", resp)
	}
	calls := f.msgr.Calls()
	if len(calls) != 1 || calls[0].Text != msgNoAddresses {
		t.Fatalf("calls = %+v", calls)
	}
	if f.store.Writes() != 0 {
		t.Fatalf("list wrote to the store")
	}
}

func TestListIsStable(t *testing.T) {
	f := newFixture(t)
	last := "2026-05-01T08:00:00.000000Z"
	f.store.Put(address.Record{EmailAddress: "bbbbbbbbbb@x.test", TelegramUserID: "42", CreatedAt: "2026-01-02T00:00:00.000000Z", Active: true, LastEmailAt: &last})
	f.store.Put(address.Record{EmailAddress: "aaaaaaaaaa@x.test", TelegramUserID: "42", CreatedAt: "2026-01-01T00:00:00.000000Z", Active: false})
	f.store.Put(address.Record{EmailAddress: "cccccccccc@x.test", TelegramUserID: "7", CreatedAt: "2026-01-01T00:00:00.000000Z", Active: true})

	first := mustHandle(t, f.d, messageUpdate(42, "/list"))
	second := mustHandle(t, f.d, messageUpdate(42, "/list"))
	if first.Body != BodyListed || second.Body != BodyListed {
		t.Fatalf("bodies = %q, %q", first.Body, second.Body)
	}
	calls := f.msgr.Calls()
	if len(calls) != 2 || calls[0].Text != calls[1].Text {
		t.Fatalf("list output changed between calls: %+v", calls)
	}
	want := "aaaaaaaaaa@x.test — inactive — last: never\nbbbbbbbbbb@x.test — active — last: " + last
	if calls[0].Text != want {
		t.Fatalf("text = %q\nwant   %q", calls[0].Text, want)
	}
	kb := calls[0].Opts.Markup
	if kb == nil || len(kb.InlineKeyboard) != 1 || kb.InlineKeyboard[0][0].Data != "deactivate|bbbbbbbbbb@x.test" {
		t.Fatalf("keyboard = %+v", kb)
	}
	if f.store.Writes() != 0 {
		t.Fatalf("list wrote to the store")
	}
}

func TestDeactivatePrompt(t *testing.T) {
	f := newFixture(t)
	f.store.Put(address.Record{EmailAddress: "abc123@x.test", TelegramUserID: "42", Active: true})

	resp := mustHandle(t, f.d, callbackUpdate(42, "deactivate|abc123@x.test"))
	if resp.StatusCode != http.StatusOK || resp.Body != BodyOK {
		t.Fatalf("resp = %+v", resp)
	}
	calls := f.msgr.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	prompt := calls[0]
	if prompt.Method != telegram.MethodEditMessage || prompt.MessageID != 55 || prompt.ChatID != 42 {
		t.Fatalf("prompt = %+v", prompt)
	}
	kb := prompt.Opts.Markup
	if kb == nil || kb.InlineKeyboard[0][0].Data != "confirm_deactivate|abc123@x.test" || kb.InlineKeyboard[0][1].Data != "cancel_deactivate" {
		t.Fatalf("keyboard = %+v", kb)
	}
	if calls[1].Method != telegram.MethodAnswerCallback {
		t.Fatalf("expected acknowledgement, got %+v", calls[1])
	}
	if f.store.Writes() != 0 {
		t.Fatalf("prompt wrote to the store")
	}
}

func TestDeactivatePromptFallsBackToSend(t *testing.T) {
	f := newFixture(t)
	f.msgr.failEdit = true
	mustHandle(t, f.d, callbackUpdate(42, "deactivate|abc123@x.test"))
	calls := f.msgr.Calls()
	if len(calls) != 2 || calls[0].Method != telegram.MethodSendMessage {
		t.Fatalf("calls = %+v", calls)
	}
	if !strings.Contains(calls[0].Text, "abc123@x.test") {
		t.Fatalf("prompt text = %q", calls[0].Text)
	}
}

func TestConfirmDeactivate(t *testing.T) {
	f := newFixture(t)
	f.store.Put(address.Record{EmailAddress: "abc123@x.test", TelegramUserID: "42", Active: true})

	resp := mustHandle(t, f.d, callbackUpdate(42, "confirm_deactivate|abc123@x.test"))
	if resp.StatusCode != http.StatusOK || resp.Body != BodyOK {
		t.Fatalf("resp = %+v", resp)
	}
	if f.store.Writes() != 1 {
		t.Fatalf("writes = %d, want 1", f.store.Writes())
	}
	rec, _ := f.store.Get(context.Background(), "abc123@x.test")
	if rec.Active {
		t.Fatalf("record still active")
	}
	var answers []string
	for _, c := range f.msgr.Calls() {
		if c.Method == telegram.MethodAnswerCallback {
			answers = append(answers, c.Text)
		}
	}
	if len(answers) != 1 || answers[0] != ackDeactivated {
		t.Fatalf("answers = %v", answers)
	}
	if got := testutil.ToFloat64(f.metrics.AddressesDeactivated); got != 1 {
		t.Fatalf("deactivated counter = %v", got)
	}

	// a second confirmation is acknowledged without another write
	mustHandle(t, f.d, callbackUpdate(42, "confirm_deactivate|abc123@x.test"))
	if f.store.Writes() != 1 {
		t.Fatalf("writes after repeat = %d, want 1", f.store.Writes())
	}
}

func TestConfirmDeactivateGuards(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"foreign", "confirm_deactivate|theirs@x.test", ackNotOwner},
		{"missing", "confirm_deactivate|nobody@x.test", ackNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.Put(address.Record{EmailAddress: "theirs@x.test", TelegramUserID: "7", Active: true})
			resp := mustHandle(t, f.d, callbackUpdate(42, tt.data))
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("resp = %+v", resp)
			}
			calls := f.msgr.Calls()
			if len(calls) != 1 || calls[0].Text != tt.want {
				t.Fatalf("calls = %+v", calls)
			}
			if f.store.Writes() != 0 || f.store.Len() != 1 {
				t.Fatalf("store changed: writes=%d len=%d", f.store.Writes(), f.store.Len())
			}
			rec, _ := f.store.Get(context.Background(), "theirs@x.test")
			if !rec.Active {
				t.Fatalf("foreign record deactivated")
			}
		})
	}
}

func TestCancelAndUnsupported(t *testing.T) {
	tests := []struct {
		data, wantAck, wantBody string
	}{
		{"cancel_deactivate", ackCancelled, BodyOK},
		{"explode|now", ackUnsupported, ""},
		{"deactivate", ackUnsupported, ""},
	}
	for _, tt := range tests {
		f := newFixture(t)
		resp := mustHandle(t, f.d, callbackUpdate(42, tt.data))
		if resp.StatusCode != http.StatusOK || resp.Body != tt.wantBody {
			t.Fatalf("%q: resp = %+v", tt.data, resp)
		}
		calls := f.msgr.Calls()
		if len(calls) != 1 || calls[0].Method != telegram.MethodAnswerCallback || calls[0].Text != tt.wantAck {
			t.Fatalf("%q: calls = %+v", tt.data, calls)
		}
		if f.store.Writes() != 0 {
			t.Fatalf("%q: store written", tt.data)
		}
	}
}

func TestOutboundFailureFailsInvocation(t *testing.T) {
	f := newFixture(t)
	f.msgr.failAll = true
	_, err := f.d.Handle(context.Background(), messageUpdate(42, "/start"))
	if !errors.Is(err, telegram.ErrAPI) {
		t.Fatalf("err = %v, want ErrAPI", err)
	}
	if got := testutil.ToFloat64(f.metrics.HandlerTotal.WithLabelValues("start", "fail")); got != 1 {
		t.Fatalf("handler{start,fail} = %v", got)
	}
}

func TestDeriveErrorCode(t *testing.T) {
	if got := deriveErrorCode(fmt.Errorf("x: %w", address.ErrExhausted)); got != "ADDRESS_EXHAUSTED" {
		t.Fatalf("code = %q", got)
	}
	if got := deriveErrorCode(errors.New("plain")); got != "ERRORSTRING" {
		t.Fatalf("code = %q", got)
	}
}
