package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rr-clan-bot/internal/config"
	"rr-clan-bot/internal/logging"
	"rr-clan-bot/internal/model"
	"rr-clan-bot/internal/repository"
	"rr-clan-bot/internal/service"
)

type dialogStage int

const (
	stageNone dialogStage = iota
	stageAlias
	stageSecret
	stageTemplateChoice
	stageBroadcastText
	stageNewTemplate
	stageDeleteTemplate
)

// stopWord aborts any pending dialogue, checked before stage logic runs.
const stopWord = "стоп"

const (
	replyAliasPrompt   = "Привет! Давай знакомиться. Как тебя зовут в игре?"
	replySecretPrompt  = "Теперь назови кодовое слово клана."
	replySecretWrong   = "Кодовое слово не подошло. Начни заново через /start."
	replyAuthOK        = "Отлично, %s! Ты в списке рассылки."
	replyWelcomeBack   = "С возвращением, %s! Ты уже в списке рассылки."
	replyStopped       = "Окей, остановился."
	replyInvalidChoice = "Неверный выбор."
	replyChoiceHint    = "Пришли номер шаблона для рассылки.\n0 — отправить своё сообщение.\nстоп — отмена."
	replyDeleteHint    = "Пришли номер шаблона, который нужно удалить.\nстоп — отмена."
	replyTextPrompt    = "Напиши сообщение, я отправлю его всем как есть."
	replyTemplateHint  = "Пришли текст шаблона. Там, где должно стоять имя, напиши имя_игрока."
	replyDeleted       = "Шаблон удалён."
	replyBroadcastOK   = "Готово, отправлено получателям: %d."
	replyBroadcastFail = "Рассылка прервана, успел отправить: %d. Подробности в логах."
	replyStorageFail   = "Что-то пошло не так с хранилищем, попробуй позже."
	replyGroupOnly     = "Эта команда работает только в группе."
	replyNobodyToCall  = "Пока некого звать, список пуст."
	replyUnknown       = "Я не понял сообщение. Набери /help, чтобы посмотреть команды."
	mentionClosing     = "Общий сбор!"
)

const commandSummary = "Команды:\n" +
	"• /start — регистрация в списке рассылки\n" +
	"• /all — позвать всех (только в группе)\n" +
	"• /help — подсказки"

const leaderSummary = "Для лидеров:\n" +
	"• /broadcast — рассылка всем участникам\n" +
	"• /newtemplate — добавить шаблон рассылки\n" +
	"• /deltemplate — удалить шаблон"

// dialogState is the pending step of one chat's dialogue. Exactly one per
// chat; setting a new one replaces whatever was pending before. userID pins
// the dialogue to whoever started it, so in a group chat other members cannot
// answer a leader's prompt or cancel the flow.
type dialogState struct {
	stage        dialogStage
	userID       int64
	pendingAlias string
}

// Bot routes inbound messages to the pending dialogue step, a command
// handler, or the catch-all, in that order.
type Bot struct {
	api          *tgbotapi.BotAPI
	sender       service.Sender
	userRepo     *repository.UserRepository
	templateSvc  *service.TemplateService
	broadcastSvc *service.BroadcastService
	rosterSvc    *service.RosterService
	config       *config.Config
	logger       *zap.SugaredLogger
	dialogs      map[int64]*dialogState
	mu           sync.Mutex
}

func New(
	token string,
	userRepo *repository.UserRepository,
	templateSvc *service.TemplateService,
	broadcastSvc *service.BroadcastService,
	rosterSvc *service.RosterService,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) (*Bot, error) {
	if err := tgbotapi.SetLogger(logging.NewBotLogger(logger)); err != nil {
		return nil, fmt.Errorf("set bot logger: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	logger.Infof("bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:          api,
		sender:       telegramSender{api: api},
		userRepo:     userRepo,
		templateSvc:  templateSvc,
		broadcastSvc: broadcastSvc,
		rosterSvc:    rosterSvc,
		config:       cfg,
		logger:       logger,
		dialogs:      make(map[int64]*dialogState),
	}, nil
}

type telegramSender struct {
	api *tgbotapi.BotAPI
}

func (s telegramSender) SendText(chatID int64, text string) error {
	_, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Infof("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || update.Message.Chat == nil {
			continue
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.logger.Errorf("handle message: %v", err)
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if st := b.getDialog(msg.Chat.ID); st != nil && st.userID == msg.From.ID {
		return b.handleDialog(ctx, msg, st)
	}

	if msg.IsCommand() {
		return b.handleCommand(ctx, msg)
	}

	if msg.Chat.IsPrivate() {
		return b.send(msg.Chat.ID, replyUnknown)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	b.logger.Infof("command /%s from user=%d chat=%d", msg.Command(), msg.From.ID, msg.Chat.ID)

	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "broadcast":
		if !b.authorize(msg) {
			return nil
		}
		return b.promptTemplateChoice(ctx, msg.Chat.ID, msg.From.ID)
	case "newtemplate":
		if !b.authorize(msg) {
			return nil
		}
		b.setDialog(msg.Chat.ID, &dialogState{stage: stageNewTemplate, userID: msg.From.ID})
		return b.send(msg.Chat.ID, replyTemplateHint)
	case "deltemplate":
		if !b.authorize(msg) {
			return nil
		}
		return b.promptDeleteTemplate(ctx, msg.Chat.ID, msg.From.ID)
	case "all":
		return b.handleMentionAll(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	default:
		if msg.Chat.IsPrivate() {
			return b.send(msg.Chat.ID, replyUnknown)
		}
		return nil
	}
}

// authorize gates leader-only commands. Denials are silent towards the
// sender so privileged commands stay invisible to regular members.
func (b *Bot) authorize(msg *tgbotapi.Message) bool {
	if b.config.IsLeader(msg.From.ID) {
		return true
	}
	b.logger.Infof("privileged command /%s denied for user=%d", msg.Command(), msg.From.ID)
	return false
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	rrName := model.RRNameUnset
	user, err := b.userRepo.GetOrCreate(ctx, msg.From.ID, msg.From.UserName)
	if err != nil {
		b.logger.Errorf("get or create user %d: %v", msg.From.ID, err)
	} else {
		rrName = user.RRName
	}

	if rrName == model.RRNameUnset {
		b.setDialog(chatID, &dialogState{stage: stageAlias, userID: msg.From.ID})
		return b.send(chatID, replyAliasPrompt)
	}

	return b.send(chatID, fmt.Sprintf(replyWelcomeBack, rrName)+"\n\n"+commandSummary)
}

func (b *Bot) handleDialog(ctx context.Context, msg *tgbotapi.Message, st *dialogState) error {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.EqualFold(text, stopWord) {
		b.clearDialog(chatID)
		b.logger.Infof("dialog stopped by user=%d", msg.From.ID)
		return b.send(chatID, replyStopped)
	}

	switch st.stage {
	case stageAlias:
		b.setDialog(chatID, &dialogState{stage: stageSecret, userID: st.userID, pendingAlias: text})
		return b.send(chatID, replySecretPrompt)
	case stageSecret:
		return b.finishAuth(ctx, msg, st.pendingAlias, text)
	case stageTemplateChoice:
		return b.handleTemplateChoice(ctx, msg, text)
	case stageBroadcastText:
		b.clearDialog(chatID)
		sent, err := b.broadcastSvc.SendText(ctx, b.sender, msg.Text)
		if err != nil {
			b.logger.Errorf("broadcast text: %v", err)
			return b.send(chatID, fmt.Sprintf(replyBroadcastFail, sent))
		}
		return b.send(chatID, fmt.Sprintf(replyBroadcastOK, sent))
	case stageNewTemplate:
		b.clearDialog(chatID)
		id, err := b.templateSvc.Create(ctx, msg.Text)
		if err != nil {
			b.logger.Errorf("create template: %v", err)
			return b.send(chatID, replyStorageFail)
		}
		b.logger.Infof("template %d created by user=%d", id, msg.From.ID)
		return b.send(chatID, fmt.Sprintf("Шаблон №%d сохранён.", id+1))
	case stageDeleteTemplate:
		return b.handleDeleteChoice(ctx, msg, text)
	default:
		b.clearDialog(chatID)
		return nil
	}
}

// finishAuth closes the register/authenticate dialogue: exact, case-sensitive
// secret comparison, then alias persistence.
func (b *Bot) finishAuth(ctx context.Context, msg *tgbotapi.Message, alias, secret string) error {
	chatID := msg.Chat.ID
	b.clearDialog(chatID)

	if secret != b.config.SecretWord {
		b.logger.Infof("wrong secret word from %q (id=%d)", msg.From.UserName, msg.From.ID)
		return b.send(chatID, replySecretWrong)
	}

	updated, err := b.userRepo.SetRRName(ctx, msg.From.ID, msg.From.UserName, alias)
	if err != nil {
		b.logger.Errorf("set rr_name for %d: %v", msg.From.ID, err)
		return nil
	}
	if !updated {
		b.logger.Errorf("rr_name for unknown user %d, alias %q dropped", msg.From.ID, alias)
		return nil
	}

	b.logger.Infof("user %d registered as %q", msg.From.ID, alias)
	return b.send(chatID, fmt.Sprintf(replyAuthOK, alias))
}

// promptTemplateChoice shows the template listing and arms the choice stage.
// Also used to re-enter the flow after an invalid selection.
func (b *Bot) promptTemplateChoice(ctx context.Context, chatID, userID int64) error {
	templates, err := b.templateSvc.List(ctx)
	if err != nil {
		b.clearDialog(chatID)
		b.logger.Errorf("list templates: %v", err)
		return b.send(chatID, replyStorageFail)
	}
	b.setDialog(chatID, &dialogState{stage: stageTemplateChoice, userID: userID})
	return b.send(chatID, service.DescribeAll(templates)+"\n\n"+replyChoiceHint)
}

func (b *Bot) handleTemplateChoice(ctx context.Context, msg *tgbotapi.Message, text string) error {
	chatID := msg.Chat.ID

	n, convErr := strconv.Atoi(text)
	if convErr != nil {
		if err := b.send(chatID, replyInvalidChoice); err != nil {
			return err
		}
		return b.promptTemplateChoice(ctx, chatID, msg.From.ID)
	}

	if n == 0 {
		b.setDialog(chatID, &dialogState{stage: stageBroadcastText, userID: msg.From.ID})
		return b.send(chatID, replyTextPrompt)
	}

	tmpl, err := b.templateSvc.Get(ctx, n-1)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := b.send(chatID, replyInvalidChoice); err != nil {
			return err
		}
		return b.promptTemplateChoice(ctx, chatID, msg.From.ID)
	}
	if err != nil {
		b.clearDialog(chatID)
		b.logger.Errorf("get template %d: %v", n-1, err)
		return b.send(chatID, replyStorageFail)
	}

	b.clearDialog(chatID)
	sent, err := b.broadcastSvc.SendTemplate(ctx, b.sender, tmpl)
	if err != nil {
		b.logger.Errorf("broadcast template %d: %v", tmpl.ID, err)
		return b.send(chatID, fmt.Sprintf(replyBroadcastFail, sent))
	}
	b.logger.Infof("template %d broadcast to %d users by user=%d", tmpl.ID, sent, msg.From.ID)
	return b.send(chatID, fmt.Sprintf(replyBroadcastOK, sent))
}

// promptDeleteTemplate shows the listing and arms the delete stage.
func (b *Bot) promptDeleteTemplate(ctx context.Context, chatID, userID int64) error {
	templates, err := b.templateSvc.List(ctx)
	if err != nil {
		b.clearDialog(chatID)
		b.logger.Errorf("list templates: %v", err)
		return b.send(chatID, replyStorageFail)
	}
	b.setDialog(chatID, &dialogState{stage: stageDeleteTemplate, userID: userID})
	return b.send(chatID, service.DescribeAll(templates)+"\n\n"+replyDeleteHint)
}

func (b *Bot) handleDeleteChoice(ctx context.Context, msg *tgbotapi.Message, text string) error {
	chatID := msg.Chat.ID

	n, convErr := strconv.Atoi(text)
	if convErr == nil {
		err := b.templateSvc.Delete(ctx, n-1)
		if err == nil {
			b.clearDialog(chatID)
			b.logger.Infof("template %d deleted by user=%d", n-1, msg.From.ID)
			return b.send(chatID, replyDeleted)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			b.clearDialog(chatID)
			b.logger.Errorf("delete template %d: %v", n-1, err)
			return b.send(chatID, replyStorageFail)
		}
	}

	// Malformed number and missing id get the same reply, then the listing
	// again so the dialogue is never left stuck.
	if err := b.send(chatID, replyInvalidChoice); err != nil {
		return err
	}
	return b.promptDeleteTemplate(ctx, chatID, msg.From.ID)
}

func (b *Bot) handleMentionAll(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	if msg.Chat.IsPrivate() {
		return b.send(chatID, replyGroupOnly)
	}

	names, err := b.userRepo.ListUsernames(ctx)
	if err != nil {
		b.logger.Errorf("list usernames: %v", err)
		return nil
	}

	mentions := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" {
			mentions = append(mentions, "@"+name)
		}
	}
	if len(mentions) == 0 {
		return b.send(chatID, replyNobodyToCall)
	}

	return b.send(chatID, strings.Join(mentions, " ")+"\n"+mentionClosing)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "Я бот клана: регистрирую участников и передаю новости от лидеров.\n\n" + commandSummary
	if b.config.IsLeader(msg.From.ID) {
		text += "\n\n" + leaderSummary
	}
	return b.send(msg.Chat.ID, text)
}

// SendRosterReports delivers the member roster to every leader. Best-effort:
// a failed delivery is logged and the remaining leaders still get theirs.
func (b *Bot) SendRosterReports(ctx context.Context) error {
	text, err := b.rosterSvc.Summary(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("build roster: %w", err)
	}

	for _, leaderID := range b.config.LeaderIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := b.send(leaderID, text); err != nil {
			b.logger.Errorf("send roster to %d: %v", leaderID, err)
		}
	}
	return nil
}

func (b *Bot) send(chatID int64, text string) error {
	return b.sender.SendText(chatID, text)
}

func (b *Bot) getDialog(chatID int64) *dialogState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dialogs[chatID]
}

func (b *Bot) setDialog(chatID int64, st *dialogState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialogs[chatID] = st
}

func (b *Bot) clearDialog(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dialogs, chatID)
}
