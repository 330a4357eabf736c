package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
)

// senderMock records sent messages, failing the configured number of sends first.
type senderMock struct {
	mtx      sync.Mutex
	failures int
	sent     []tgbotapi.MessageConfig
	attempts int
}

func (s *senderMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.attempts++
	if s.failures > 0 {
		s.failures--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}

	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (s *senderMock) sentCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.sent)
}

func TestNotifierConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *NotifierConfig
		wantErr bool
	}{
		{"log only", &NotifierConfig{Logger: &log.Logger}, false},
		{"missing logger", &NotifierConfig{}, true},
		{"missing chat id", &NotifierConfig{BotToken: "token", Logger: &log.Logger}, true},
		{"invalid chat id", &NotifierConfig{BotToken: "token", ChatID: "chat", Logger: &log.Logger}, true},
	}

	for _, test := range tests {
		err := test.cfg.Validate()
		if test.wantErr && err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	// Ensure special characters are escaped.
	got := escapeMarkdownV2("Closed BTCUSDT dip episode (exit reached) at 75.5!")
	want := "Closed BTCUSDT dip episode \\(exit reached\\) at 75\\.5\\!"
	assert.Equal(t, got, want)
	assert.Equal(t, formatMessage("a-b"), "*dipper*\na\\-b")
}

func TestNotifier(t *testing.T) {
	// Ensure a notifier without a bot token only logs.
	n, err := NewNotifier(&NotifierConfig{Logger: &log.Logger})
	assert.NoError(t, err)
	n.Notify("Armed BTCUSDT dip episode")
	assert.Equal(t, len(n.messages), 0)

	// Ensure queued notifications are delivered with retries.
	mock := &senderMock{failures: 1}
	n.bot = mock
	n.chatID = 42
	n.cfg.RetryDelayBase = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	n.Notify("Entered BTCUSDT dip episode")
	for mock.sentCount() < 1 {
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	assert.Equal(t, mock.attempts, 2)
	assert.Equal(t, mock.sent[0].ChatID, int64(42))
	assert.Equal(t, mock.sent[0].ParseMode, tgbotapi.ModeMarkdownV2)
	assert.Equal(t, mock.sent[0].Text, "*dipper*\nEntered BTCUSDT dip episode")

	// Ensure notifications never block once the queue is full.
	for i := 0; i < bufferSize+5; i++ {
		n.Notify("Closed BTCUSDT dip episode")
	}
	assert.Equal(t, len(n.messages), bufferSize)
}
