package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs a local model command once per prompt. The request is
// written to stdin as JSON. Stdout is either {"content": ...} or the raw
// answer text. Calls are serialized.
type execGenerator struct {
	argv []string
	mu   sync.Mutex
}

type execRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	JSON        bool    `json:"json,omitempty"`
}

type execReply struct {
	Content string `json:"content"`
	Tokens  int    `json:"tokens,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{argv: argv}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		JSON:        req.JSON,
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("llm command: %w: %s", err, msg)
		}
		return fmt.Errorf("llm command: %w", err)
	}
	chunk, err := parseExecReply(stdout.Bytes())
	if err != nil {
		return err
	}
	return consumer(chunk)
}

// parseExecReply accepts a reply envelope or plain text.
func parseExecReply(out []byte) (Chunk, error) {
	trimmed := bytes.TrimSpace(out)
	var reply execReply
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &reply) == nil && (reply.Content != "" || reply.Error != "") {
		if reply.Error != "" {
			return Chunk{}, fmt.Errorf("llm command: %s", reply.Error)
		}
		return Chunk{Content: reply.Content, Done: true, Tokens: reply.Tokens}, nil
	}
	return Chunk{Content: string(trimmed), Done: true}, nil
}
