package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rr-clan-bot/internal/model"
	"rr-clan-bot/internal/repository"
)

// Sender delivers a text message to a chat. The bot implements it over the
// Telegram API; tests use a recording fake.
type Sender interface {
	SendText(chatID int64, text string) error
}

// BroadcastService fans a message out to every authenticated user, in id
// order, sender included. Users who started registration but never passed the
// secret challenge still have the unset alias and are skipped, so the
// sentinel never shows up in an outbound message. A failure for one recipient
// aborts the rest of the loop so the initiator learns about it instead of a
// silent partial delivery.
type BroadcastService struct {
	userRepo *repository.UserRepository
	logger   *zap.SugaredLogger
}

func NewBroadcastService(userRepo *repository.UserRepository, logger *zap.SugaredLogger) *BroadcastService {
	return &BroadcastService{userRepo: userRepo, logger: logger}
}

// SendTemplate renders the template once per recipient, substituting each
// recipient's own alias, and sends the result to their private chat.
// Returns how many messages went out before any error.
func (s *BroadcastService) SendTemplate(ctx context.Context, sender Sender, tmpl *model.Template) (int, error) {
	return s.fanOut(ctx, sender, func(user model.User) string {
		return Render(tmpl.Body, user.RRName)
	})
}

// SendText sends the literal text verbatim to every registered user.
func (s *BroadcastService) SendText(ctx context.Context, sender Sender, text string) (int, error) {
	return s.fanOut(ctx, sender, func(model.User) string {
		return text
	})
}

func (s *BroadcastService) fanOut(ctx context.Context, sender Sender, compose func(model.User) string) (int, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	sent := 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if user.RRName == model.RRNameUnset {
			s.logger.Debugf("skip unauthenticated user %d", user.ID)
			continue
		}
		if err := sender.SendText(user.ID, compose(user)); err != nil {
			s.logger.Errorf("broadcast to %d: %v", user.ID, err)
			return sent, fmt.Errorf("send to %d: %w", user.ID, err)
		}
		sent++
	}
	return sent, nil
}
