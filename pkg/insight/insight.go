// Package insight turns a member's recent transactions into five short
// observations for the teller, using an OpenAI-compatible chat endpoint
// such as a local Ollama server.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiosklab/corelink/pkg/dna"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultModel    = "gemma3:1b"
	DefaultBaseURL  = "http://localhost:11434/v1/"
	DefaultWindow   = 30 * 24 * time.Hour
	DefaultTimeout  = 2 * time.Minute
	maxInsightCount = 5
)

// Messages shown in place of insights.
const (
	FailureText       = "Insight generation failed."
	NoMemberText      = "No member number available for this check-in."
	NoTransactionText = "No recent transactions to analyze."
)

// Generator produces insight lines from transactions.
type Generator interface {
	Generate(ctx context.Context, transactions []dna.Transaction) ([]string, error)
}

// Config configures the chat endpoint.
type Config struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

const promptTemplate = `You are a financial assistant at a credit union reviewing a member's transaction history:

%s

Generate exactly five numbered insights (1-5), each 1-2 sentences.
Each insight must:
- Include at least one concrete example or numeric detail from the data (e.g. "spent $1,200 more on dining this month").
- Be focused on patterns, trends, or anomalies.
- Omit any introductions, conclusions, or follow-up questions; return only the numbered list.

Format exactly as:

1. ...
2. ...
3. ...
4. ...
5. ...
`

// ChatGenerator implements Generator with the chat completions API.
type ChatGenerator struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// Option configures a ChatGenerator.
type Option func(*[]option.RequestOption)

// WithHTTPClient sets the http.Client used for the endpoint.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(opts *[]option.RequestOption) {
		if httpClient != nil {
			*opts = append(*opts, option.WithHTTPClient(httpClient))
		}
	}
}

// NewChatGenerator creates a ChatGenerator. Local servers ignore the API
// key, so an empty one is allowed.
func NewChatGenerator(cfg Config, opts ...Option) *ChatGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "unused"
	}
	requestOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	for _, opt := range opts {
		opt(&requestOpts)
	}
	return &ChatGenerator{
		client:  openai.NewClient(requestOpts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Generate asks the model for insights and keeps only the lines numbered
// 1. to 5.
func (g *ChatGenerator) Generate(ctx context.Context, transactions []dna.Transaction) ([]string, error) {
	if len(transactions) == 0 {
		return nil, errors.New("no transactions to analyze")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(Prompt(transactions)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("requesting insights: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("requesting insights: empty response")
	}

	lines := NumberedLines(resp.Choices[0].Message.Content)
	slog.Debug("generated insights", "model", g.model, "transactions", len(transactions), "lines", len(lines), "duration", time.Since(start))
	if len(lines) == 0 {
		return nil, errors.New("response contained no numbered insights")
	}
	return lines, nil
}

// Prompt renders the transactions into the request prompt, one line each.
func Prompt(transactions []dna.Transaction) string {
	var sb strings.Builder
	for i, tx := range transactions {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s (%s)", tx.Date, tx.Description, tx.Amount)
	}
	return fmt.Sprintf(promptTemplate, sb.String())
}

// NumberedLines returns the trimmed lines starting with "1." to "5.", at
// most five.
func NumberedLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[1] != '.' || line[0] < '1' || line[0] > '5' {
			continue
		}
		out = append(out, line)
		if len(out) == maxInsightCount {
			break
		}
	}
	return out
}

// FilterRecent keeps transactions dated on or after the day window before
// now. Transactions whose date cannot be parsed are kept.
func FilterRecent(transactions []dna.Transaction, now time.Time, window time.Duration) []dna.Transaction {
	y, m, d := now.Add(-window).Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	out := make([]dna.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		date, err := time.ParseInLocation(time.DateOnly, tx.Date, now.Location())
		if err != nil || !date.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out
}
