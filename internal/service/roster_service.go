package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rr-clan-bot/internal/model"
	"rr-clan-bot/internal/repository"
)

// RosterService builds the member roster sent to leaders on schedule.
type RosterService struct {
	userRepo *repository.UserRepository
}

func NewRosterService(userRepo *repository.UserRepository) *RosterService {
	return &RosterService{userRepo: userRepo}
}

// Summary lists every registered member with their in-game alias.
func (s *RosterService) Summary(ctx context.Context, now time.Time) (string, error) {
	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Состав клана на %s\n\n", now.Format("02.01.2006")))

	if len(users) == 0 {
		builder.WriteString("— пока никто не зарегистрировался")
		return builder.String(), nil
	}

	for _, user := range users {
		builder.WriteString(formatMember(user))
	}
	builder.WriteString(fmt.Sprintf("\nВсего: %d", len(users)))

	return strings.TrimSpace(builder.String()), nil
}

func formatMember(user model.User) string {
	name := "@" + user.Username
	if user.Username == "" {
		name = fmt.Sprintf("id%d", user.ID)
	}
	if user.RRName == model.RRNameUnset {
		return fmt.Sprintf("• %s — имя в игре не указано\n", name)
	}
	return fmt.Sprintf("• %s — %s\n", name, user.RRName)
}
