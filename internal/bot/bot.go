package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taprush/internal/config"
	"taprush/internal/engine"
	"taprush/internal/store"
)

// Bot handles the chat side of the game: /start deep links carrying referral
// codes, plus a couple of read-only commands. All gameplay happens in the
// WebApp; the bot only onboards and answers.
type Bot struct {
	cfg   config.Config
	eng   *engine.Engine
	store *store.Store
	api   *tgbotapi.BotAPI
}

func New(cfg config.Config, eng *engine.Engine, st *store.Store) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("bot api: %w", err)
	}
	api.Debug = false
	return &Bot{cfg: cfg, eng: eng, store: st, api: api}, nil
}

func (b *Bot) StartPolling(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message != nil {
					b.handleMessage(ctx, upd.Message)
				}
			}
		}
	}()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !msg.IsCommand() {
		return
	}

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "stats":
		b.handleStats(ctx, msg)
	case "invite":
		b.handleInvite(ctx, msg)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	username := msg.From.UserName
	if username == "" {
		username = msg.From.FirstName
	}
	now := time.Now()

	b.ensureSession(ctx, userID, username, now)

	if ref := strings.TrimSpace(msg.CommandArguments()); ref != "" {
		b.attribute(ctx, ref, userID, username, now)
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID,
		"Welcome to TapRush! Tap, keep your streak alive and climb the ranks.")
	if b.cfg.PublicBaseURL != "" {
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Play", b.cfg.PublicBaseURL),
			),
		)
	}
	b.send(reply)
}

func (b *Bot) attribute(ctx context.Context, ref string, userID int64, username string, now time.Time) {
	referrerID, found := b.eng.FindByReferralCode(ref)
	if !found {
		return
	}
	if _, err := b.eng.AttributeReferral(referrerID, userID, username, now); err != nil {
		if !errors.Is(err, engine.ErrAlreadyReferred) {
			log.Printf("bot: attribute %s -> %d: %v", ref, userID, err)
		}
		return
	}
	b.save(ctx, referrerID)
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	now := time.Now()
	b.ensureSession(ctx, msg.From.ID, msg.From.UserName, now)

	u, ok := b.eng.Snapshot(msg.From.ID)
	if !ok {
		return
	}
	text := fmt.Sprintf(
		"Balance: %d\nPending: %d\nRank: %s\nStreak: %d days\nFriends: %d",
		u.TotalAmount, u.PendingAmount, u.Rank, u.CurrentStreak, len(u.Friends))
	b.send(tgbotapi.NewMessage(msg.Chat.ID, text))
}

func (b *Bot) handleInvite(ctx context.Context, msg *tgbotapi.Message) {
	now := time.Now()
	b.ensureSession(ctx, msg.From.ID, msg.From.UserName, now)

	u, ok := b.eng.Snapshot(msg.From.ID)
	if !ok {
		return
	}
	link := fmt.Sprintf("https://t.me/%s?start=%s", b.api.Self.UserName, u.ReferralCode)
	b.send(tgbotapi.NewMessage(msg.Chat.ID,
		"Invite friends and earn a cut of everything they confirm:\n"+link))
}

func (b *Bot) ensureSession(ctx context.Context, userID int64, username string, now time.Time) {
	if _, ok := b.eng.Snapshot(userID); ok {
		return
	}
	if b.store != nil {
		stored, err := b.store.Load(ctx, userID)
		switch {
		case err == nil:
			b.eng.Restore(stored, now)
			return
		case !errors.Is(err, store.ErrNotFound):
			log.Printf("bot: load snapshot for %d: %v", userID, err)
		}
	}
	b.eng.Register(userID, username, now)
	b.save(ctx, userID)
}

func (b *Bot) save(ctx context.Context, userID int64) {
	if b.store == nil {
		return
	}
	if snap, ok := b.eng.Snapshot(userID); ok {
		if err := b.store.Save(ctx, snap); err != nil {
			log.Printf("bot: save snapshot for %d: %v", userID, err)
		}
	}
}

func (b *Bot) send(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("bot: send: %v", err)
	}
}
