package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/sessions"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
)

const (
	maxTelegramMessage = 4096
	sessionPrefix      = "telegram:"
)

// sender is the part of the bot API the adapter uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram chats to agent sessions. Navigation becomes a
// deep link into the web app.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	out      sender
	sessions *sessions.Manager
	appURL   string
	allowed  map[int64]bool
	idle     time.Duration
}

// New creates a Telegram adapter. An empty allowedUsers admits everyone.
// Chats idle for longer than idleTimeout lose their session; zero keeps
// them until /new.
func New(token string, mgr *sessions.Manager, appURL string, allowedUsers []int64, idleTimeout time.Duration) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, mgr, appURL, allowedUsers)
	a.bot = bot
	a.idle = idleTimeout
	return a, nil
}

func newAdapter(out sender, mgr *sessions.Manager, appURL string, allowedUsers []int64) *Adapter {
	a := &Adapter{
		out:      out,
		sessions: mgr,
		appURL:   appURL,
	}
	if len(allowedUsers) > 0 {
		a.allowed = make(map[int64]bool, len(allowedUsers))
		for _, id := range allowedUsers {
			a.allowed[id] = true
		}
	}
	return a
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram polling started", "bot", a.bot.Self.UserName, "idle_timeout", a.idle)
	a.sessions.SweepIdle(sessionPrefix, a.idle)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if a.allowed != nil && !a.allowed[msg.From.ID] {
		slog.Warn("telegram user not allowed", "user", msg.From.ID)
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	sess := a.session(ctx, msg)
	a.sessions.Go(sess, msg.Text, func(turn *runtime.Turn, err error) {
		if err != nil {
			a.sendResponse(chatID, rejectionText(err))
			return
		}
		a.sendResponse(chatID, turn.Reply.Text)
	})
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, msg.Chat.ID)

	switch msg.Command() {
	case "start":
		sess, created := a.sessions.Resolve(ctx, key, a.navigator(chatID))
		if created {
			if greeting := firstAgentText(sess.Messages()); greeting != "" {
				a.sendResponse(chatID, greeting)
				return
			}
		}
		a.sendResponse(chatID, "Ask me about the weather in any city, or to compare two cities.")

	case "new":
		_ = a.sessions.Close(key)
		sess, _ := a.sessions.Resolve(ctx, key, a.navigator(chatID))
		text := "Starting a new conversation."
		if greeting := firstAgentText(sess.Messages()); greeting != "" {
			text += "\n\n" + greeting
		}
		a.sendResponse(chatID, text)

	case "cancel":
		sess, err := a.sessions.Lookup(key)
		if err != nil || !sess.Cancel() {
			a.sendResponse(chatID, "Nothing to cancel.")
		}

	case "status":
		sess, err := a.sessions.Lookup(key)
		if err != nil {
			a.sendResponse(chatID, "No conversation yet.")
			return
		}
		snap := sess.Snapshot()
		a.sendResponse(chatID, fmt.Sprintf("Session: %s\nMessages: %d\nBusy: %t", sess.ID, len(snap.Messages), snap.Busy))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /cancel, /status")
	}
}

func (a *Adapter) session(ctx context.Context, msg *tgbotapi.Message) *runtime.Session {
	sess, _ := a.sessions.Resolve(ctx, buildSessionKey(msg.From.ID, msg.Chat.ID), a.navigator(msg.Chat.ID))
	return sess
}

// navigator sends each navigation to the chat as a link into the app.
func (a *Adapter) navigator(chatID int64) tools.Navigator {
	return tools.NavigatorFunc(func(ctx context.Context, route tools.Route, query map[string]string) error {
		link := tools.Link(a.appURL, route, query)
		msg := tgbotapi.NewMessage(chatID, linkText(route, query))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Open", link)),
		)
		if _, err := a.out.Send(msg); err != nil {
			// Telegram refuses some URLs in buttons (localhost); fall back to text.
			plain := tgbotapi.NewMessage(chatID, linkText(route, query)+"\n"+link)
			if _, err := a.out.Send(plain); err != nil {
				return fmt.Errorf("send link: %w", err)
			}
		}
		return nil
	})
}

func linkText(route tools.Route, query map[string]string) string {
	switch route {
	case tools.RouteSearch:
		if city := query["city"]; city != "" {
			return "Weather for " + city
		}
	case tools.RouteCompare:
		if query["cityA"] != "" && query["cityB"] != "" {
			return "Compare " + query["cityA"] + " and " + query["cityB"]
		}
	}
	return "Go to " + string(route)
}

func rejectionText(err error) string {
	switch {
	case errors.Is(err, runtime.ErrBusy):
		return "I'm still working on your previous request."
	case errors.Is(err, runtime.ErrUnavailable):
		return "The assistant is unavailable right now."
	case errors.Is(err, runtime.ErrEmptyInput):
		return "Please send a message."
	default:
		slog.Error("telegram submit rejected", "error", err)
		return "Sorry, I encountered an error. Please try again."
	}
}

func firstAgentText(msgs []types.Message) string {
	for _, m := range msgs {
		if m.Role == types.RoleAgent {
			return m.Text
		}
	}
	return ""
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.out.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.out.Send(msg); err != nil {
				slog.Error("telegram send failed", "chat", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		// Never cut inside a multi-byte rune.
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
