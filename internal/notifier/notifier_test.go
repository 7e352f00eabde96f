package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// fakeSender records outgoing Telegram sends.
type fakeSender struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (f *fakeSender) Send(to tele.Recipient, what any, _ ...any) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	text, _ := what.(string)
	f.sends = append(f.sends, to.Recipient()+": "+text)
	return &tele.Message{ID: len(f.sends)}, nil
}

// recordingNotifier captures alerts for fan-out tests.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []agent.Alert
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, alert agent.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func TestLogNotifierNeverFails(t *testing.T) {
	t.Parallel()

	n := NewLog(zap.NewNop())
	for _, level := range []agent.AlertLevel{agent.AlertInfo, agent.AlertSuccess, agent.AlertWarning, agent.AlertError} {
		err := n.Send(context.Background(), agent.Alert{Title: "t", Message: "m", Level: level})
		require.NoError(t, err)
	}
}

func TestTelegramSendFormatsAlert(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{}
	n := newTelegramWithSender(bot, 42)

	err := n.Send(context.Background(), agent.Alert{
		Title:   "Service restarted",
		Message: "api came back after 2 attempts",
		Level:   agent.AlertWarning,
	})
	require.NoError(t, err)

	bot.mu.Lock()
	defer bot.mu.Unlock()
	require.Len(t, bot.sends, 1)
	require.Contains(t, bot.sends[0], "42: ")
	require.Contains(t, bot.sends[0], "*Service restarted*")
	require.Contains(t, bot.sends[0], "api came back after 2 attempts")
}

func TestTelegramSendPropagatesError(t *testing.T) {
	t.Parallel()

	bot := &fakeSender{err: errors.New("api unreachable")}
	n := newTelegramWithSender(bot, 42)

	err := n.Send(context.Background(), agent.Alert{Title: "t", Message: "m", Level: agent.AlertInfo})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api unreachable")
}

func TestNewTelegramValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := NewTelegram("", 42)
	require.Error(t, err)

	_, err = NewTelegram("token", 0)
	require.Error(t, err)
}

func TestMultiFansOutToAllChannels(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{}
	b := &recordingNotifier{}
	n := NewMulti(a, nil, b)

	alert := agent.Alert{Title: "t", Message: "m", Level: agent.AlertInfo}
	require.NoError(t, n.Send(context.Background(), alert))

	require.Len(t, a.alerts, 1)
	require.Len(t, b.alerts, 1)
}

func TestMultiJoinsChannelErrors(t *testing.T) {
	t.Parallel()

	broken := &recordingNotifier{err: errors.New("channel down")}
	ok := &recordingNotifier{}
	n := NewMulti(broken, ok)

	err := n.Send(context.Background(), agent.Alert{Title: "t", Message: "m"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel down")

	// The healthy channel still received the alert.
	require.Len(t, ok.alerts, 1)
}
