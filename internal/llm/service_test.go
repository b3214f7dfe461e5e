package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lessons/internal/bus"
	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/protocol"
)

func TestServiceAnswersCompletions(t *testing.T) {
	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, "llm-test", logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	completer := CompleterFunc(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "fail") {
			return "", errors.New("model unavailable")
		}
		return "echo: " + prompt, nil
	})
	svc := NewService(context.Background(), client, completer, logger)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Close)
	assert.True(t, svc.Healthy())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp protocol.CompletionResponse
	require.NoError(t, client.RequestJSON(ctx, protocol.SubjectLLMComplete, protocol.CompletionRequest{RequestID: "r1", Prompt: "hello"}, &resp))
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "echo: hello", resp.Content)
	assert.Empty(t, resp.Error)

	resp = protocol.CompletionResponse{}
	require.NoError(t, client.RequestJSON(ctx, protocol.SubjectLLMComplete, protocol.CompletionRequest{Prompt: "please fail"}, &resp))
	assert.Equal(t, "model unavailable", resp.Error)
	assert.Empty(t, resp.Content)
}
