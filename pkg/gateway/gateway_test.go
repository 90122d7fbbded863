package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/agilbank/concierge/pkg/pool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays a fixed outcome per model/key pair.
type scriptedProvider struct {
	outcomes map[string]error // "model/key" -> error (nil = success)
	calls    []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, model, apiKey string, req Request) (*Response, error) {
	pair := model + "/" + apiKey
	p.calls = append(p.calls, pair)
	if err, ok := p.outcomes[pair]; ok && err != nil {
		return nil, err
	}
	return &Response{Text: "ok from " + pair}, nil
}

func quotaErr() error {
	return fmt.Errorf("googleapi: Error 429: RESOURCE_EXHAUSTED: quota exceeded")
}

func newTestGateway(t *testing.T, p *pool.Pool, provider Provider) *Gateway {
	t.Helper()
	gw, err := New(Config{
		Pool:     p,
		Provider: provider,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return gw
}

func TestGateway_Invoke_Success(t *testing.T) {
	p, err := pool.New([]string{"model-a"}, []string{"key-x"}, "")
	require.NoError(t, err)

	provider := &scriptedProvider{outcomes: map[string]error{}}
	gw := newTestGateway(t, p, provider)

	resp, err := gw.Invoke(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok from model-a/key-x", resp.Text)
	assert.Equal(t, "model-a", resp.Model)
	assert.Len(t, provider.calls, 1)
}

func TestGateway_Invoke_FailsOverAcrossSlotsThenModels(t *testing.T) {
	// model-a hits quota on every credential; model-b succeeds on the first.
	p, err := pool.New([]string{"model-a", "model-b"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)

	provider := &scriptedProvider{outcomes: map[string]error{
		"model-a/key-x": quotaErr(),
		"model-a/key-y": quotaErr(),
	}}
	gw := newTestGateway(t, p, provider)

	resp, err := gw.Invoke(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, []string{"model-a/key-x", "model-a/key-y", "model-b/key-x"}, provider.calls)
	assert.Equal(t, "ok from model-b/key-x", resp.Text)
	assert.Equal(t, "model-b", resp.Model)
	assert.Equal(t, []pool.Pair{
		{Model: "model-a", Slot: 0},
		{Model: "model-a", Slot: 1},
	}, p.Exhausted())
}

func TestGateway_Invoke_SingleQuotaFailure(t *testing.T) {
	p, err := pool.New([]string{"model-a", "model-b"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)

	provider := &scriptedProvider{outcomes: map[string]error{
		"model-a/key-x": quotaErr(),
	}}
	gw := newTestGateway(t, p, provider)

	resp, err := gw.Invoke(context.Background(), Request{})
	require.NoError(t, err)

	// The best model keeps serving on the next credential slot.
	assert.Equal(t, []string{"model-a/key-x", "model-a/key-y"}, provider.calls)
	assert.Equal(t, "model-a", resp.Model)
	assert.Equal(t, []pool.Pair{{Model: "model-a", Slot: 0}}, p.Exhausted())
}

func TestGateway_Invoke_FatalErrorNotRetried(t *testing.T) {
	p, err := pool.New([]string{"model-a", "model-b"}, []string{"key-x"}, "")
	require.NoError(t, err)

	provider := &scriptedProvider{outcomes: map[string]error{
		"model-a/key-x": errors.New("invalid request: malformed transcript"),
	}}
	gw := newTestGateway(t, p, provider)

	_, err = gw.Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.Len(t, provider.calls, 1)
	assert.Empty(t, p.Exhausted())
}

func TestGateway_Invoke_WholePoolExhausted(t *testing.T) {
	p, err := pool.New([]string{"model-a", "model-b"}, []string{"key-x", "key-y"}, "")
	require.NoError(t, err)

	provider := &scriptedProvider{outcomes: map[string]error{
		"model-a/key-x": quotaErr(),
		"model-b/key-x": quotaErr(),
		"model-a/key-y": quotaErr(),
		"model-b/key-y": quotaErr(),
	}}
	gw := newTestGateway(t, p, provider)

	_, err = gw.Invoke(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Pairs, 4)
	assert.Len(t, provider.calls, 4)
}

func TestGateway_Invoke_PoolAlreadyExhausted(t *testing.T) {
	p, err := pool.New([]string{"model-a"}, []string{"key-x"}, "")
	require.NoError(t, err)
	p.MarkExhausted("model-a", 0)

	provider := &scriptedProvider{outcomes: map[string]error{}}
	gw := newTestGateway(t, p, provider)

	_, err = gw.Invoke(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Empty(t, provider.calls)
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", errors.New("server returned HTTP 429"), true},
		{"resource exhausted", errors.New("rpc error: RESOURCE_EXHAUSTED"), true},
		{"lowercase quota", errors.New("daily quota exceeded for project"), true},
		{"rate limit", errors.New("Rate Limit reached, slow down"), true},
		{"rate_limit token", errors.New("error code rate_limit_error"), true},
		{"timeout", errors.New("context deadline exceeded"), false},
		{"auth", errors.New("invalid api key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsQuotaError(tt.err))
		})
	}
}
