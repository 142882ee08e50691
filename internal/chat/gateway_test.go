package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handlerStub struct {
	mu    sync.Mutex
	calls []string
	reply string
	err   error
}

func (h *handlerStub) HandleIncoming(ctx context.Context, sender, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, sender+"|"+text)
	return h.reply, h.err
}

func (h *handlerStub) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type limiterStub struct {
	mu       sync.Mutex
	decision Decision
	err      error
	keys     []string
}

func (l *limiterStub) Allow(ctx context.Context, channel, sender string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, channel+"|"+sender)
	return l.decision, l.err
}

func TestGatewayIgnoresGroupAndStatusMessages(t *testing.T) {
	handler := &handlerStub{reply: "hi"}
	sender := &recordingSender{}
	g := NewGateway(handler, sender, nil, testLogger())
	ctx := context.Background()

	for _, msg := range []domain.InboundMessage{
		{From: "120363000000@g.us", Text: "1"},
		{From: "status@broadcast", Text: "1"},
		{From: "919000000001@c.us", Text: "1", IsGroup: true},
		{From: "919000000001@c.us", Text: "1", IsStatus: true},
		{From: "  ", Text: "1"},
	} {
		require.NoError(t, g.OnMessage(ctx, msg))
	}
	assert.Zero(t, handler.callCount())
	assert.Empty(t, sender.messages())
}

func TestGatewayNormalizesSenderAndReplies(t *testing.T) {
	handler := &handlerStub{reply: "menu text"}
	sender := &recordingSender{}
	g := NewGateway(handler, sender, nil, testLogger())

	require.NoError(t, g.OnMessage(context.Background(), domain.InboundMessage{From: "919000000001@s.whatsapp.net", Text: "hello"}))

	assert.Equal(t, []string{"919000000001|hello"}, handler.calls)
	assert.Equal(t, []sentMessage{{To: "919000000001", Text: "menu text"}}, sender.messages())
}

func TestGatewayRepliesToUnregisteredSenders(t *testing.T) {
	handler := &handlerStub{reply: "not registered", err: ErrNotRegistered}
	sender := &recordingSender{}
	g := NewGateway(handler, sender, nil, testLogger())

	require.NoError(t, g.OnMessage(context.Background(), domain.InboundMessage{From: "919000000009@c.us"}))
	assert.Len(t, sender.messages(), 1)
}

func TestGatewayRateLimit(t *testing.T) {
	ctx := context.Background()
	msg := domain.InboundMessage{From: "919000000001@c.us", Text: "1", Channel: "whatsapp"}

	t.Run("denied message is dropped", func(t *testing.T) {
		handler := &handlerStub{reply: "x"}
		limiter := &limiterStub{decision: Decision{Allowed: false, Count: 20, RetryAfter: 12 * time.Second}}
		g := NewGateway(handler, &recordingSender{}, limiter, testLogger())

		_, err := g.Handle(ctx, msg)
		assert.ErrorIs(t, err, ErrRateLimited)
		var limited *RateLimitError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, 12*time.Second, limited.RetryAfter)

		require.NoError(t, g.OnMessage(ctx, msg))
		assert.Zero(t, handler.callCount())
		assert.Equal(t, []string{"whatsapp|919000000001", "whatsapp|919000000001"}, limiter.keys)
	})

	t.Run("allowed message is handled", func(t *testing.T) {
		handler := &handlerStub{reply: "x"}
		g := NewGateway(handler, &recordingSender{}, &limiterStub{decision: Decision{Allowed: true, Count: 20}}, testLogger())

		require.NoError(t, g.OnMessage(ctx, msg))
		assert.Equal(t, 1, handler.callCount())
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		handler := &handlerStub{reply: "x"}
		g := NewGateway(handler, &recordingSender{}, &limiterStub{err: errors.New("redis down")}, testLogger())

		require.NoError(t, g.OnMessage(ctx, msg))
		assert.Equal(t, 1, handler.callCount())
	})
}

func TestGatewayBrokerHandlers(t *testing.T) {
	ctx := context.Background()
	handler := &handlerStub{reply: "ok"}
	g := NewGateway(handler, &recordingSender{}, nil, testLogger())
	handlers := g.BrokerHandlers(ctx)
	require.Contains(t, handlers, RoutingKeyInboundWhatsApp)
	require.Contains(t, handlers, RoutingKeyInboundSMS)

	assert.True(t, handlers[RoutingKeyInboundSMS]([]byte("{not json")), "malformed bodies are acked")
	assert.Zero(t, handler.callCount())

	body, err := json.Marshal(domain.InboundMessage{From: "919000000001", Text: "3"})
	require.NoError(t, err)
	assert.True(t, handlers[RoutingKeyInboundWhatsApp](body))
	assert.Equal(t, 1, handler.callCount())

	handler.err = errors.New("db down")
	assert.False(t, handlers[RoutingKeyInboundWhatsApp](body), "handling failures are requeued")
}

func TestGatewayConcurrentMessagesForOneMember(t *testing.T) {
	f := newMachineFixture(t, domain.Idle{})
	sender := &recordingSender{}
	g := NewGateway(f.machine, sender, nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.OnMessage(context.Background(), domain.InboundMessage{From: memberPhone + "@c.us", Text: ""})
		}()
	}
	wg.Wait()

	assert.Len(t, sender.messages(), 8)
	assert.Zero(t, f.machine.locks.size())
}
