// Package dispatch turns one Telegram update into Bot API calls and address
// table operations, and reports a status code and short body for the caller.
//
// Handling is synchronous: an update is fully processed, including every
// outbound call, before Handle returns.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/inboxbot/core/address"
	"github.com/m3rciful/inboxbot/core/logger"
	"github.com/m3rciful/inboxbot/core/metrics"
	"github.com/m3rciful/inboxbot/core/telegram"
	"github.com/m3rciful/inboxbot/core/telegram/commands"
)

// ErrMalformedUpdate is returned for bodies that are not a usable Telegram update.
var ErrMalformedUpdate = errors.New("dispatch: malformed update")

// Response bodies.
const (
	BodyNoBody      = "no body"
	BodyOK          = "ok"
	BodyCreated     = "created"
	BodyExhausted   = "exhausted"
	BodyListed      = "listed"
	BodyNoAddresses = "no addresses"
)

// Command names.
const (
	CmdStart = "/start"
	CmdNew   = "/new"
	CmdList  = "/list"
)

// Event is one inbound invocation. Body is the raw JSON update, nil when absent.
type Event struct {
	Body *string
}

// Response is the invocation result.
type Response struct {
	StatusCode int
	Body       string
}

// Messenger is the outbound Bot API surface the handlers use.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts telegram.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Addresses is the address lifecycle the handlers drive.
type Addresses interface {
	Create(ctx context.Context, owner string) (address.Record, error)
	List(ctx context.Context, owner string) ([]address.Record, error)
	Deactivate(ctx context.Context, email, requester string) (address.Record, error)
}

// Options wires a Dispatcher. Addresses and Messenger are required.
type Options struct {
	Addresses Addresses
	Messenger Messenger
	// Registry defaults to DefaultRegistry().
	Registry *telegram.Registry
	Metrics  *metrics.Metrics
}

// Dispatcher routes updates to handlers.
type Dispatcher struct {
	addresses Addresses
	messenger Messenger
	registry  *telegram.Registry
	metrics   *metrics.Metrics
	commands  map[string]messageHandler
}

// DefaultRegistry lists the commands the dispatcher understands, in match order.
func DefaultRegistry() *telegram.Registry {
	reg := telegram.NewRegistry()
	reg.RegisterCommand(CmdStart, commands.Command{Description: "Show help", Hidden: true})
	reg.RegisterCommand(CmdNew, commands.Command{Description: "Create a new email address"})
	reg.RegisterCommand(CmdList, commands.Command{Description: "List your addresses"})
	return reg
}

// New builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Addresses == nil || opts.Messenger == nil {
		return nil, errors.New("dispatch: addresses and messenger are required")
	}
	d := &Dispatcher{
		addresses: opts.Addresses,
		messenger: opts.Messenger,
		registry:  opts.Registry,
		metrics:   opts.Metrics,
	}
	if d.registry == nil {
		d.registry = DefaultRegistry()
	}
	d.commands = map[string]messageHandler{
		CmdStart: d.handleStart,
		CmdNew:   d.handleNew,
		CmdList:  d.handleList,
	}
	return d, nil
}

// Registry returns the command registry, e.g. for publishing the bot menu.
func (d *Dispatcher) Registry() *telegram.Registry { return d.registry }

// Handle processes one invocation. A returned error means the invocation failed
// as a whole; the HTTP edge maps it to 500.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (Response, error) {
	if ev.Body == nil || *ev.Body == "" {
		d.countUpdate("empty")
		return Response{StatusCode: http.StatusBadRequest, Body: BodyNoBody}, nil
	}
	var u tele.Update
	if err := json.Unmarshal([]byte(*ev.Body), &u); err != nil {
		d.countUpdate("malformed")
		logger.LogEvent(ctx, logger.Dispatch, slog.LevelWarn, "update.decode",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return d.HandleUpdate(ctx, u)
}

// HandleUpdate routes an already decoded update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u tele.Update) (Response, error) {
	switch {
	case u.Message != nil:
		d.countUpdate("message")
		return d.routeMessage(ctx, u)
	case u.Callback != nil:
		d.countUpdate("callback")
		return d.routeCallback(ctx, u)
	}
	d.countUpdate("other")
	logger.LogEvent(ctx, logger.Dispatch, slog.LevelDebug, "update.ignored",
		slog.String("status", "skip"),
		slog.Int("update_id", u.ID),
	)
	return Response{StatusCode: http.StatusOK}, nil
}

func (d *Dispatcher) countUpdate(kind string) {
	if d.metrics != nil {
		d.metrics.UpdatesTotal.WithLabelValues(kind).Inc()
	}
}

// turn carries the per-update identifiers and the instrumented messenger.
type turn struct {
	chatID     int64
	userID     int64
	messageID  int
	callbackID string
	out        *countingMessenger
}

type result struct {
	outcome string
	body    string
}

type messageHandler func(ctx context.Context, t *turn) (result, error)

// updateContext attaches rid and update identifiers for downstream logs.
func updateContext(ctx context.Context, updateID int, chatID, userID int64) context.Context {
	rid := logger.BuildRID(updateID, chatID, userID)
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithUpdateMeta(ctx, updateID, userID, chatID)
	return logger.WithLogger(ctx, logger.Dispatch)
}

func (d *Dispatcher) run(ctx context.Context, name string, t *turn, fn messageHandler, extras ...slog.Attr) (Response, error) {
	start := time.Now()
	ctx = logger.WithHandler(ctx, name)
	res, err := fn(ctx, t)
	d.logHandlerSummary(ctx, name, start, t.out, res.outcome, err, extras...)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: http.StatusOK, Body: res.body}, nil
}

func (d *Dispatcher) routeMessage(ctx context.Context, u tele.Update) (Response, error) {
	msg := u.Message
	if msg.Chat == nil {
		return Response{}, fmt.Errorf("%w: message without chat", ErrMalformedUpdate)
	}
	var userID int64
	if msg.Sender != nil {
		userID = msg.Sender.ID
	}
	ctx = updateContext(ctx, u.ID, msg.Chat.ID, userID)
	if logger.ShouldSampleDebug() {
		logger.LogEvent(ctx, logger.Dispatch, slog.LevelDebug, "update.received",
			slog.String("status", "ok"),
			slog.String("kind", "message"),
			slog.String("payload", logger.SanitizeLimit(msg.Text, 256)),
		)
	}

	t := &turn{
		chatID:    msg.Chat.ID,
		userID:    userID,
		messageID: msg.ID,
		out:       &countingMessenger{Messenger: d.messenger},
	}
	name, ok := d.registry.Match(msg.Text)
	handler, bound := d.commands[name]
	if !ok || !bound {
		return d.run(ctx, "unknown", t, d.handleUnknown)
	}
	return d.run(ctx, normalizeHandlerName(name), t, handler)
}

func (d *Dispatcher) handleStart(ctx context.Context, t *turn) (result, error) {
	if _, err := t.out.SendMessage(ctx, t.chatID, msgWelcome, telegram.SendOptions{}); err != nil {
		return result{}, err
	}
	return result{outcome: "ok", body: BodyOK}, nil
}

func (d *Dispatcher) handleUnknown(ctx context.Context, t *turn) (result, error) {
	if _, err := t.out.SendMessage(ctx, t.chatID, msgUnknown, telegram.SendOptions{}); err != nil {
		return result{}, err
	}
	return result{outcome: "unknown_text", body: BodyOK}, nil
}

func (d *Dispatcher) handleNew(ctx context.Context, t *turn) (result, error) {
	rec, err := d.addresses.Create(ctx, address.OwnerID(t.chatID))
	if errors.Is(err, address.ErrExhausted) {
		if _, sendErr := t.out.SendMessage(ctx, t.chatID, msgExhausted, telegram.SendOptions{}); sendErr != nil {
			return result{}, sendErr
		}
		return result{outcome: "exhausted", body: BodyExhausted}, nil
	}
	if err != nil {
		return result{}, err
	}
	if d.metrics != nil {
		d.metrics.AddressesCreated.Inc()
	}
	if _, err := t.out.SendMessage(ctx, t.chatID, createdText(rec.EmailAddress), telegram.SendOptions{HTML: true}); err != nil {
		return result{}, err
	}
	return result{outcome: "created", body: BodyCreated}, nil
}

func (d *Dispatcher) handleList(ctx context.Context, t *turn) (result, error) {
	recs, err := d.addresses.List(ctx, address.OwnerID(t.chatID))
	if err != nil {
		return result{}, err
	}
	if len(recs) == 0 {
		if _, err := t.out.SendMessage(ctx, t.chatID, msgNoAddresses, telegram.SendOptions{}); err != nil {
			return result{}, err
		}
		return result{outcome: "empty", body: BodyNoAddresses}, nil
	}
	opts := telegram.SendOptions{Markup: deactivateKeyboard(recs)}
	if _, err := t.out.SendMessage(ctx, t.chatID, listText(recs), opts); err != nil {
		return result{}, err
	}
	return result{outcome: "listed", body: BodyListed}, nil
}
