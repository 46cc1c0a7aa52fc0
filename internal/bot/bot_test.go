package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"rr-clan-bot/internal/config"
	"rr-clan-bot/internal/model"
	"rr-clan-bot/internal/repository"
	"rr-clan-bot/internal/service"
)

const (
	leaderID   = int64(100)
	memberID   = int64(5)
	secretWord = "медведь"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	messages []sentMessage
	failFrom int
}

func (f *fakeSender) SendText(chatID int64, text string) error {
	if f.failFrom > 0 && len(f.messages)+1 >= f.failFrom {
		return errors.New("send failed")
	}
	f.messages = append(f.messages, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	if len(f.messages) == 0 {
		t.Fatal("no messages sent")
	}
	return f.messages[len(f.messages)-1]
}

func newTestBot(t *testing.T) (*Bot, *fakeSender) {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	logger := zap.NewNop().Sugar()
	sender := &fakeSender{}

	return &Bot{
		sender:       sender,
		userRepo:     userRepo,
		templateSvc:  service.NewTemplateService(templateRepo),
		broadcastSvc: service.NewBroadcastService(userRepo, logger),
		rosterSvc:    service.NewRosterService(userRepo),
		config:       &config.Config{SecretWord: secretWord, LeaderIDs: []int64{leaderID}},
		logger:       logger,
		dialogs:      make(map[int64]*dialogState),
	}, sender
}

func privateMsg(userID int64, username, text string) *tgbotapi.Message {
	return chatMsg(userID, userID, "private", username, text)
}

func chatMsg(userID, chatID int64, chatType, username, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, UserName: username},
		Chat: &tgbotapi.Chat{ID: chatID, Type: chatType},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := text
		if i := strings.IndexByte(text, ' '); i >= 0 {
			cmd = text[:i]
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func handle(t *testing.T, b *Bot, msg *tgbotapi.Message) {
	t.Helper()
	if err := b.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle %q: %v", msg.Text, err)
	}
}

func registerMember(t *testing.T, b *Bot, id int64, username, alias string) {
	t.Helper()
	ctx := context.Background()
	if _, err := b.userRepo.GetOrCreate(ctx, id, username); err != nil {
		t.Fatalf("get or create %d: %v", id, err)
	}
	updated, err := b.userRepo.SetRRName(ctx, id, username, alias)
	if err != nil || !updated {
		t.Fatalf("set rr_name %d: updated=%t err=%v", id, updated, err)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	b, sender := newTestBot(t)

	handle(t, b, privateMsg(memberID, "bob", "/start"))
	if sender.last(t).text != replyAliasPrompt {
		t.Fatalf("start reply = %q", sender.last(t).text)
	}
	if b.getDialog(memberID) == nil || b.getDialog(memberID).stage != stageAlias {
		t.Fatal("expected pending alias stage")
	}

	handle(t, b, privateMsg(memberID, "bob", "Боря Великий"))
	if sender.last(t).text != replySecretPrompt {
		t.Fatalf("alias reply = %q", sender.last(t).text)
	}

	handle(t, b, privateMsg(memberID, "bob", secretWord))
	if !strings.Contains(sender.last(t).text, "Боря Великий") {
		t.Fatalf("auth reply = %q, want alias echoed", sender.last(t).text)
	}
	if b.getDialog(memberID) != nil {
		t.Fatal("dialogue should be finished")
	}

	user, err := b.userRepo.GetOrCreate(context.Background(), memberID, "bob")
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.RRName != "Боря Великий" {
		t.Errorf("rr_name = %q", user.RRName)
	}
}

func TestWelcomeBackWhenRegistered(t *testing.T) {
	b, sender := newTestBot(t)
	registerMember(t, b, memberID, "bob", "Боря")

	handle(t, b, privateMsg(memberID, "bob", "/start"))
	if !strings.Contains(sender.last(t).text, "Боря") {
		t.Fatalf("reply = %q, want stored alias embedded", sender.last(t).text)
	}
	if b.getDialog(memberID) != nil {
		t.Fatal("no dialogue expected for a registered user")
	}
}

func TestSecretMismatch(t *testing.T) {
	b, sender := newTestBot(t)

	handle(t, b, privateMsg(memberID, "bob", "/start"))
	handle(t, b, privateMsg(memberID, "bob", "Боря"))
	handle(t, b, privateMsg(memberID, "bob", "волк"))

	if sender.last(t).text != replySecretWrong {
		t.Fatalf("reply = %q", sender.last(t).text)
	}
	if b.getDialog(memberID) != nil {
		t.Fatal("dialogue should be cleared after a failed attempt")
	}

	user, err := b.userRepo.GetOrCreate(context.Background(), memberID, "bob")
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.RRName != model.RRNameUnset {
		t.Errorf("rr_name = %q, want still unset", user.RRName)
	}
}

func TestStopWordClearsDialog(t *testing.T) {
	b, sender := newTestBot(t)

	handle(t, b, privateMsg(memberID, "bob", "/start"))
	handle(t, b, privateMsg(memberID, "bob", "СТОП"))

	if sender.last(t).text != replyStopped {
		t.Fatalf("reply = %q", sender.last(t).text)
	}
	if b.getDialog(memberID) != nil {
		t.Fatal("stop word should clear the pending stage")
	}

	// With nothing pending, free text falls through to the catch-all.
	handle(t, b, privateMsg(memberID, "bob", "Боря"))
	if sender.last(t).text != replyUnknown {
		t.Fatalf("reply after stop = %q", sender.last(t).text)
	}
	user, err := b.userRepo.GetOrCreate(context.Background(), memberID, "bob")
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.RRName != model.RRNameUnset {
		t.Errorf("rr_name = %q, want unset after stop", user.RRName)
	}
}

func TestUnauthorizedPrivilegedCommandsAreSilent(t *testing.T) {
	b, sender := newTestBot(t)

	for _, cmd := range []string{"/broadcast", "/newtemplate", "/deltemplate"} {
		handle(t, b, privateMsg(memberID, "bob", cmd))
	}

	if len(sender.messages) != 0 {
		t.Fatalf("messages = %v, want none", sender.messages)
	}
	if b.getDialog(memberID) != nil {
		t.Fatal("no state transition expected for unauthorized sender")
	}
}

func TestBroadcastTemplateFanOut(t *testing.T) {
	b, sender := newTestBot(t)
	registerMember(t, b, 1, "u1", "Алиса")
	registerMember(t, b, 2, "u2", "Боря")
	registerMember(t, b, 3, "u3", "Вера")

	if _, err := b.templateSvc.Create(context.Background(), "Привет имя_игрока!"); err != nil {
		t.Fatalf("create template: %v", err)
	}

	handle(t, b, privateMsg(leaderID, "leader", "/broadcast"))
	if !strings.Contains(sender.last(t).text, "1. Привет Имя_игрока!") {
		t.Fatalf("listing = %q", sender.last(t).text)
	}

	sender.messages = nil
	handle(t, b, privateMsg(leaderID, "leader", "1"))

	if len(sender.messages) != 4 { // 3 recipients + confirmation
		t.Fatalf("messages = %d, want 4", len(sender.messages))
	}
	wantAliases := []string{"Алиса", "Боря", "Вера"}
	for i, want := range wantAliases {
		m := sender.messages[i]
		if m.chatID != int64(i+1) || m.text != "Привет "+want+"!" {
			t.Errorf("fan-out %d = %+v, want personalized for %q", i, m, want)
		}
	}
	if !strings.Contains(sender.messages[3].text, "3") {
		t.Errorf("confirmation = %q", sender.messages[3].text)
	}
	if b.getDialog(leaderID) != nil {
		t.Fatal("dialogue should be finished after the broadcast")
	}
}

func TestBroadcastInvalidChoiceRedisplays(t *testing.T) {
	b, sender := newTestBot(t)
	registerMember(t, b, 1, "u1", "Алиса")
	if _, err := b.templateSvc.Create(context.Background(), "Привет имя_игрока!"); err != nil {
		t.Fatalf("create template: %v", err)
	}

	handle(t, b, privateMsg(leaderID, "leader", "/broadcast"))

	for _, bad := range []string{"5", "abc"} {
		sender.messages = nil
		handle(t, b, privateMsg(leaderID, "leader", bad))

		if len(sender.messages) != 2 {
			t.Fatalf("after %q: messages = %d, want invalid reply + listing", bad, len(sender.messages))
		}
		if sender.messages[0].text != replyInvalidChoice {
			t.Errorf("after %q: first reply = %q", bad, sender.messages[0].text)
		}
		if !strings.Contains(sender.messages[1].text, "1. Привет Имя_игрока!") {
			t.Errorf("after %q: listing not re-displayed: %q", bad, sender.messages[1].text)
		}
		if st := b.getDialog(leaderID); st == nil || st.stage != stageTemplateChoice {
			t.Fatalf("after %q: flow should still be pending", bad)
		}
	}
}

func TestDialogBoundToInitiator(t *testing.T) {
	b, sender := newTestBot(t)
	registerMember(t, b, 1, "u1", "Алиса")
	if _, err := b.templateSvc.Create(context.Background(), "Привет имя_игрока!"); err != nil {
		t.Fatalf("create template: %v", err)
	}

	groupID := int64(-500)
	handle(t, b, chatMsg(leaderID, groupID, "group", "leader", "/broadcast"))

	// Another group member cannot answer the prompt or cancel the flow;
	// their messages take the normal route (silent in a group).
	sender.messages = nil
	handle(t, b, chatMsg(memberID, groupID, "group", "bob", "1"))
	handle(t, b, chatMsg(memberID, groupID, "group", "bob", "стоп"))
	if len(sender.messages) != 0 {
		t.Fatalf("messages from bystander input = %v, want none", sender.messages)
	}
	if st := b.getDialog(groupID); st == nil || st.stage != stageTemplateChoice || st.userID != leaderID {
		t.Fatal("flow should still be pending for the initiator")
	}

	handle(t, b, chatMsg(leaderID, groupID, "group", "leader", "1"))
	if len(sender.messages) != 2 { // 1 recipient + confirmation
		t.Fatalf("messages = %d, want 2", len(sender.messages))
	}
	if m := sender.messages[0]; m.chatID != 1 || m.text != "Привет Алиса!" {
		t.Errorf("fan-out = %+v", m)
	}
	if b.getDialog(groupID) != nil {
		t.Fatal("dialogue should be finished after the broadcast")
	}
}

func TestBroadcastFreeText(t *testing.T) {
	b, sender := newTestBot(t)
	registerMember(t, b, 1, "u1", "Алиса")
	registerMember(t, b, 2, "u2", "Боря")

	handle(t, b, privateMsg(leaderID, "leader", "/broadcast"))
	handle(t, b, privateMsg(leaderID, "leader", "0"))
	if sender.last(t).text != replyTextPrompt {
		t.Fatalf("reply = %q", sender.last(t).text)
	}

	sender.messages = nil
	handle(t, b, privateMsg(leaderID, "leader", "Сбор в 20:00, не опаздываем"))

	if len(sender.messages) != 3 { // 2 recipients + confirmation
		t.Fatalf("messages = %d, want 3", len(sender.messages))
	}
	for _, m := range sender.messages[:2] {
		if m.text != "Сбор в 20:00, не опаздываем" {
			t.Errorf("fan-out = %q, want verbatim text", m.text)
		}
	}
}

func TestNewTemplateFlow(t *testing.T) {
	b, sender := newTestBot(t)

	handle(t, b, privateMsg(leaderID, "leader", "/newtemplate"))
	if sender.last(t).text != replyTemplateHint {
		t.Fatalf("prompt = %q", sender.last(t).text)
	}

	handle(t, b, privateMsg(leaderID, "leader", "Привет имя_игрока, турнир завтра!"))
	if !strings.Contains(sender.last(t).text, "№1") {
		t.Fatalf("confirmation = %q", sender.last(t).text)
	}

	tmpl, err := b.templateSvc.Get(context.Background(), 0)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tmpl.Body != "Привет {rr_name}, турнир завтра!" {
		t.Errorf("stored body = %q", tmpl.Body)
	}
}

func TestDeleteTemplateFlow(t *testing.T) {
	b, sender := newTestBot(t)
	ctx := context.Background()
	for _, body := range []string{"первый", "второй"} {
		if _, err := b.templateSvc.Create(ctx, body); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	handle(t, b, privateMsg(leaderID, "leader", "/deltemplate"))

	// A nonexistent id and a malformed number get the same reply, and both
	// re-display the listing instead of dropping the flow.
	for _, bad := range []string{"9", "abc"} {
		sender.messages = nil
		handle(t, b, privateMsg(leaderID, "leader", bad))
		if len(sender.messages) != 2 || sender.messages[0].text != replyInvalidChoice {
			t.Fatalf("messages after %q = %v", bad, sender.messages)
		}
		if st := b.getDialog(leaderID); st == nil || st.stage != stageDeleteTemplate {
			t.Fatalf("delete flow should still be pending after %q", bad)
		}
	}

	handle(t, b, privateMsg(leaderID, "leader", "1"))
	if sender.last(t).text != replyDeleted {
		t.Fatalf("reply = %q", sender.last(t).text)
	}

	templates, err := b.templateSvc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(templates) != 1 || templates[0].ID != 1 {
		t.Errorf("remaining templates = %v", templates)
	}
}

func TestMentionAll(t *testing.T) {
	b, sender := newTestBot(t)
	registerMember(t, b, 1, "alice", "Алиса")
	registerMember(t, b, 2, "bob", "Боря")

	handle(t, b, privateMsg(memberID, "bob", "/all"))
	if sender.last(t).text != replyGroupOnly {
		t.Fatalf("private reply = %q", sender.last(t).text)
	}

	handle(t, b, chatMsg(memberID, -500, "group", "bob", "/all"))
	got := sender.last(t).text
	if !strings.Contains(got, "@alice") || !strings.Contains(got, "@bob") || !strings.Contains(got, mentionClosing) {
		t.Fatalf("mention message = %q", got)
	}
	if sender.last(t).chatID != -500 {
		t.Fatalf("mention sent to %d, want the group chat", sender.last(t).chatID)
	}
}

func TestCatchAll(t *testing.T) {
	b, sender := newTestBot(t)

	handle(t, b, privateMsg(memberID, "bob", "какой-то текст"))
	if sender.last(t).text != replyUnknown {
		t.Fatalf("private catch-all = %q", sender.last(t).text)
	}

	sender.messages = nil
	handle(t, b, chatMsg(memberID, -500, "group", "bob", "какой-то текст"))
	if len(sender.messages) != 0 {
		t.Fatalf("group catch-all should stay silent, got %v", sender.messages)
	}
}

func TestUnknownCommand(t *testing.T) {
	b, sender := newTestBot(t)

	handle(t, b, privateMsg(memberID, "bob", "/frobnicate"))
	if sender.last(t).text != replyUnknown {
		t.Fatalf("reply = %q", sender.last(t).text)
	}
}
