package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// CLIProvider shells out to a local agent binary. The prompt is passed as the
// final argument and the answer is read from stdout.
type CLIProvider struct {
	binaryPath string
	args       []string
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       append([]string(nil), args...),
	}, nil
}

func (p *CLIProvider) Name() string {
	return "cli-" + p.binaryPath
}

func (p *CLIProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	return p.run(ctx, messages, nil)
}

// Stream forwards stdout line by line as the agent writes it.
func (p *CLIProvider) Stream(ctx context.Context, messages []Message, onPiece func(string)) (*Response, error) {
	return p.run(ctx, messages, onPiece)
}

func (p *CLIProvider) run(ctx context.Context, messages []Message, onPiece func(string)) (*Response, error) {
	cmd := exec.CommandContext(ctx, p.binaryPath, append(append([]string(nil), p.args...), cliPrompt(messages))...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cli agent failed to start: %w", err)
	}

	var out strings.Builder
	r := bufio.NewReader(stdout)
	for {
		line, readErr := r.ReadString('\n')
		if line != "" {
			out.WriteString(line)
			if onPiece != nil {
				onPiece(line)
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				err = readErr
			}
			break
		}
	}

	if waitErr := cmd.Wait(); waitErr != nil {
		err = waitErr
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("cli agent timed out: %w", err)
		}
		return nil, fmt.Errorf("cli agent failed: %w\nOutput: %s", err, strings.TrimSpace(stderr.String()))
	}

	result := out.String()
	return &Response{
		Content: result,
		Usage: Usage{
			TotalTokens: len(strings.Fields(result)),
		},
	}, nil
}

// cliPrompt flattens the conversation. A single message is passed as is;
// earlier turns are prefixed with their role.
func cliPrompt(messages []Message) string {
	switch len(messages) {
	case 0:
		return ""
	case 1:
		return messages[0].Content
	}
	var b strings.Builder
	for _, m := range messages[:len(messages)-1] {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString(messages[len(messages)-1].Content)
	return b.String()
}

func (p *CLIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings not supported by CLI provider")
}
