package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lessons/internal/config"
)

type scriptedGenerator struct {
	chunks []string
	err    error
	delay  time.Duration
	last   Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.last = req
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.delay):
		}
	}
	if g.err != nil {
		return g.err
	}
	for _, c := range g.chunks {
		if err := consumer(Chunk{Content: c}); err != nil {
			return err
		}
	}
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testConfig() config.LLMConfig {
	cfg := config.Default().LLM
	cfg.RequestsPerSecond = 0
	return cfg
}

func TestClientAccumulatesChunks(t *testing.T) {
	gen := &scriptedGenerator{chunks: []string{"  Plants ", "make ", "sugar.  "}}
	c := NewClient(testConfig(), gen, newLogger(), WithSystem("be brief"))
	out, err := c.Complete(context.Background(), "explain")
	require.NoError(t, err)
	assert.Equal(t, "Plants make sugar.", out)
	assert.Equal(t, "explain", gen.last.Prompt)
	assert.Equal(t, "be brief", gen.last.System)
	assert.Equal(t, 256, gen.last.MaxTokens)
	assert.False(t, gen.last.JSON)

	_, err = c.Complete(context.Background(), "Respond in JSON format.")
	require.NoError(t, err)
	assert.True(t, gen.last.JSON)
}

func TestClientEmptyResponse(t *testing.T) {
	c := NewClient(testConfig(), &scriptedGenerator{chunks: []string{" ", "\n"}}, newLogger())
	_, err := c.Complete(context.Background(), "explain")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClientWrapsGeneratorError(t *testing.T) {
	boom := errors.New("boom")
	c := NewClient(testConfig(), &scriptedGenerator{err: boom}, newLogger())
	_, err := c.Complete(context.Background(), "explain")
	assert.ErrorIs(t, err, boom)
}

func TestClientTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutMS = 10
	c := NewClient(cfg, &scriptedGenerator{chunks: []string{"late"}, delay: time.Second}, newLogger())
	_, err := c.Complete(context.Background(), "explain")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockGenerator(t *testing.T) {
	c := NewClient(testConfig(), NewMockGenerator(), newLogger())
	out, err := c.Complete(context.Background(), "Write a title about Photosynthesis. Maximum 50 characters.")
	require.NoError(t, err)
	assert.Equal(t, "[mock completion for Write a title about Photosynthesis.]", out)

	out, err = c.Complete(context.Background(), `Analyze the educational topic "Gravity". Respond in JSON format.`)
	require.NoError(t, err)
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `"Gravity"`)
}

func TestOllamaGeneratorStreamsChat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Light "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"becomes sugar"},"done":true,"eval_count":3}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL+"/", "fast-model", "balanced-model")
	var chunks []Chunk
	err := gen.Generate(context.Background(), Request{Prompt: "hi", System: "tutor", Tier: "fast", JSON: true}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.False(t, chunks[0].Done)
	assert.True(t, chunks[1].Done)
	assert.Equal(t, 3, chunks[1].Tokens)

	assert.Equal(t, "fast-model", got.Model)
	assert.Equal(t, "json", got.Format)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[1].Content)
}

func TestOllamaModelFallback(t *testing.T) {
	g := NewOllamaGenerator("http://x", "", "").(*ollamaGenerator)
	assert.Equal(t, defaultOllamaModel, g.model("fast"))
	g = NewOllamaGenerator("http://x", "small", "").(*ollamaGenerator)
	assert.Equal(t, "small", g.model("balanced"))
}

func TestOllamaGeneratorStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "", "")
	err := gen.Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	assert.ErrorContains(t, err, "model not found")
}

func TestParseExecReply(t *testing.T) {
	c, err := parseExecReply([]byte(`{"content":"Plants make sugar.","tokens":4}`))
	require.NoError(t, err)
	assert.Equal(t, "Plants make sugar.", c.Content)
	assert.Equal(t, 4, c.Tokens)

	c, err = parseExecReply([]byte("  plain answer\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain answer", c.Content)

	_, err = parseExecReply([]byte(`{"error":"out of memory"}`))
	assert.ErrorContains(t, err, "out of memory")
}

func TestNewGenerator(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "exec"
	cfg.Command = ""
	_, err := NewGenerator(cfg)
	assert.Error(t, err)

	cfg.Mode = "mock"
	gen, err := NewGenerator(cfg)
	require.NoError(t, err)
	assert.NotNil(t, gen)
}
