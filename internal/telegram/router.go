package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ykvlv/tardy-bot/internal/hr"
	"github.com/ykvlv/tardy-bot/internal/store"
)

// API is the subset of the bot client the router needs.
// *tgbotapi.BotAPI satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Clock is the local-time source the handlers need.
// domain.Clock satisfies it.
type Clock interface {
	Now() time.Time
	NotificationRequired(t time.Time) bool
	Stamp(t time.Time) string
	HM(t time.Time) string
	ClockFromStamp(s string) string
}

// Conversation stages across the registration and tardy flows.
type stage int

const (
	stageNone stage = iota
	stageAwaitPassport
	stageAwaitBirthdate
	stageAwaitReason
	stageAwaitStart
	stageAwaitEnd
)

// conversation is the per-identity FSM value: the current stage plus the
// fields accumulated so far. Never shared across identities.
type conversation struct {
	Stage    stage
	Passport string
	Reason   string
	Start    string
}

// Abandoned conversations evaporate after this long.
const conversationTTL = 30 * time.Minute

// Callback verbs carried by the inline decision buttons.
const (
	cbApprove = "tardy_ok"
	cbReject  = "tardy_rej"
)

// Reply-keyboard button labels.
const (
	btnReport  = "I'm late"
	btnPending = "Tardy requests"
	btnSync    = "🔄 Sync with HR"
)

// Router wires Telegram updates to handlers. Conversation state is kept
// in-memory per identity; updates for one identity are serialized while
// different identities proceed concurrently.
type Router struct {
	api   API
	log   *zap.Logger
	repo  store.Repo
	hr    hr.Gateway
	clock Clock

	conv *cache.Cache // identity -> *conversation

	mu    sync.Mutex
	locks map[string]*sync.Mutex // identity -> serializing lock
}

// NewRouter creates a new Telegram router.
func NewRouter(api API, log *zap.Logger, repo store.Repo, gw hr.Gateway, clock Clock) *Router {
	return &Router{
		api:   api,
		log:   log,
		repo:  repo,
		hr:    gw,
		clock: clock,
		conv:  cache.New(conversationTTL, conversationTTL),
		locks: make(map[string]*sync.Mutex),
	}
}

// lockIdentity returns the serializing lock for one chat identity.
func (r *Router) lockIdentity(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Router) getConv(id string) *conversation {
	if v, ok := r.conv.Get(id); ok {
		return v.(*conversation)
	}
	return &conversation{}
}

func (r *Router) setConv(id string, c *conversation) {
	r.conv.Set(id, c, conversationTTL)
}

func (r *Router) clearConv(id string) {
	r.conv.Delete(id)
}

// HandleUpdate routes a single update. Safe for concurrent use: the
// per-identity lock guarantees single-writer conversation state.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.From != nil {
		identity := strconv.FormatInt(upd.Message.From.ID, 10)
		l := r.lockIdentity(identity)
		l.Lock()
		defer l.Unlock()
		r.handleMessage(ctx, identity, upd.Message.Chat.ID, strings.TrimSpace(upd.Message.Text))
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		identity := strconv.FormatInt(cb.From.ID, 10)
		l := r.lockIdentity(identity)
		l.Lock()
		defer l.Unlock()

		verb, reqID, ok := parseCallback(cb.Data)
		if !ok {
			// Unknown callback — ignore silently
			return
		}
		r.handleDecision(ctx, identity, cb, verb, reqID)
	}
}

func (r *Router) handleMessage(ctx context.Context, identity string, chatID int64, text string) {
	switch {
	case strings.HasPrefix(text, "/start"):
		r.handleStart(ctx, identity, chatID)
	case strings.HasPrefix(text, "/reset"):
		r.handleReset(ctx, identity, chatID)
	case strings.HasPrefix(text, "/refresh"):
		r.handleRefresh(ctx, identity, chatID)
	case strings.HasPrefix(text, "/whoami"):
		r.sendText(chatID, "Your Telegram ID: "+identity)
	case text == btnReport:
		r.handleTardyStart(ctx, identity, chatID)
	case text == btnPending:
		r.handlePendingList(ctx, identity, chatID)
	case text == btnSync:
		r.handleSync(ctx, identity, chatID)
	default:
		r.handleConversation(ctx, identity, chatID, text)
	}
}

func parseCallback(data string) (verb string, reqID int64, ok bool) {
	i := strings.LastIndex(data, ":")
	if i < 0 {
		return "", 0, false
	}
	verb = data[:i]
	if verb != cbApprove && verb != cbReject {
		return "", 0, false
	}
	id, err := strconv.ParseInt(data[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return verb, id, true
}

// --- Send helpers ---

func (r *Router) send(c tgbotapi.Chattable) {
	if _, err := r.api.Send(c); err != nil {
		r.log.Warn("send failed", zap.Error(err))
	}
}

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

// notifyIdentity delivers a message to a chat identified by its string id,
// optionally with an inline keyboard. Used for cross-chat notifications
// (approver, employee); the caller decides whether a failure matters.
func (r *Router) notifyIdentity(identity, text string, kb ...tgbotapi.InlineKeyboardMarkup) error {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kb) == 1 {
		msg.ReplyMarkup = kb[0]
	}
	_, err = r.api.Send(msg)
	return err
}

func (r *Router) answerCallback(id, text string) {
	if _, err := r.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		r.log.Warn("callback answer failed", zap.Error(err))
	}
}

func (r *Router) alertCallback(id, text string) {
	if _, err := r.api.Request(tgbotapi.NewCallbackWithAlert(id, text)); err != nil {
		r.log.Warn("callback alert failed", zap.Error(err))
	}
}
