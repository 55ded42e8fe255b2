package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultLLMEndpoint points to a local OpenAI-compatible endpoint.
	DefaultLLMEndpoint = "http://127.0.0.1:8845/v1"
	DefaultLLMModel    = "qwen2.5-7b-instruct"

	defaultLLMAttempts = 3
	defaultLLMBackoff  = 600 * time.Millisecond
	maxLLMBodyChars    = 1200
	maxLLMErrorBody    = 512
	maxLLMReasonChars  = 200
)

// LLMOracle asks an OpenAI-compatible chat completions endpoint for an importance delta.
type LLMOracle struct {
	endpointURL string
	model       string
	apiKey      string
	maxDelta    float64
	maxAttempts int
	backoff     time.Duration
	client      *http.Client
}

type LLMOptions struct {
	Endpoint    string
	Model       string
	APIKey      string
	MaxDelta    float64
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
}

func NewLLMOracle(opts LLMOptions) *LLMOracle {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultLLMModel
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = defaultLLMAttempts
	}
	backoff := opts.Backoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultLLMBackoff
	}
	maxDelta := opts.MaxDelta
	if maxDelta <= 0 {
		maxDelta = 20
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &LLMOracle{
		endpointURL: chatCompletionsURL(normalizeEndpoint(opts.Endpoint)),
		model:       model,
		apiKey:      strings.TrimSpace(opts.APIKey),
		maxDelta:    maxDelta,
		maxAttempts: attempts,
		backoff:     backoff,
		client:      client,
	}
}

func (o *LLMOracle) Name() string {
	return "llm/" + o.model
}

func (o *LLMOracle) Adjust(ctx context.Context, text EventText) (float64, error) {
	verdict, err := o.Explain(ctx, text)
	return verdict.Delta, err
}

// Explain retries transport failures, 429 and 5xx responses with linear backoff. Other
// failures return immediately.
func (o *LLMOracle) Explain(ctx context.Context, text EventText) (Verdict, error) {
	if o == nil {
		return Verdict{}, ErrOracleUnavailable
	}

	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(o.maxDelta)},
			{Role: "user", Content: userPrompt(text)},
		},
		Temperature: 0,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: marshal request: %v", ErrOracleUnavailable, err)
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		verdict, retryable, err := o.call(ctx, body)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		if !retryable || attempt == o.maxAttempts {
			break
		}

		timer := time.NewTimer(o.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Verdict{}, classifyContextErr(ctx.Err())
		case <-timer.C:
		}
	}
	return Verdict{}, lastErr
}

func (o *LLMOracle) call(ctx context.Context, body []byte) (Verdict, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpointURL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, false, fmt.Errorf("%w: build request: %v", ErrOracleUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, false, classifyContextErr(ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Verdict{}, true, fmt.Errorf("%w: %v", ErrOracleTimeout, err)
		}
		return Verdict{}, true, fmt.Errorf("%w: send request: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Verdict{}, false, classifyContextErr(ctxErr)
		}
		return Verdict{}, true, fmt.Errorf("%w: read response: %v", ErrOracleUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return Verdict{}, retryable, fmt.Errorf("%w: endpoint status %d: %s", ErrOracleUnavailable, resp.StatusCode, errorMessage(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Verdict{}, false, fmt.Errorf("%w: decode response: %v", ErrOracleUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return Verdict{}, false, fmt.Errorf("%w: response missing choices", ErrOracleUnavailable)
	}

	verdict, err := parseVerdict(parsed.Choices[0].Message.Content)
	if err != nil {
		return Verdict{}, false, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return verdict, false, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type deltaReply struct {
	Delta  *float64 `json:"delta"`
	Reason string   `json:"reason"`
}

func systemPrompt(maxDelta float64) string {
	return fmt.Sprintf(
		"You rate how much a news event matters to analysts tracking AI, technology policy and industry. "+
			"A heuristic score already exists. Reply with strict JSON only: "+
			`{"delta": <number between %g and %g>, "reason": "<one short sentence>"}. `+
			"Positive deltas raise the event, negative deltas lower it, 0 means the heuristic is right.",
		-maxDelta, maxDelta,
	)
}

func userPrompt(text EventText) string {
	body := strings.TrimSpace(text.Body)
	if runes := []rune(body); len(runes) > maxLLMBodyChars {
		body = string(runes[:maxLLMBodyChars])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(text.Title))
	fmt.Fprintf(&b, "Category: %s\n", text.Category)
	fmt.Fprintf(&b, "Sources (%d): %s\n", len(text.Sources), strings.Join(text.Sources, ", "))
	if !text.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", text.PublishedAt.UTC().Format(time.RFC3339))
	}
	if text.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", text.URL)
	}
	if body != "" {
		fmt.Fprintf(&b, "Summary: %s\n", body)
	}
	return b.String()
}

// parseVerdict extracts the JSON object from a model reply, tolerating code fences and
// surrounding prose.
func parseVerdict(content string) (Verdict, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return Verdict{}, fmt.Errorf("reply contains no JSON object")
	}

	var reply deltaReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return Verdict{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Delta == nil {
		return Verdict{}, fmt.Errorf("reply missing delta")
	}
	reason := strings.Join(strings.Fields(reply.Reason), " ")
	if runes := []rune(reason); len(runes) > maxLLMReasonChars {
		reason = string(runes[:maxLLMReasonChars])
	}
	return Verdict{Delta: *reply.Delta, Reason: reason}, nil
}

func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrOracleTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
}

func errorMessage(body []byte) string {
	var payload chatErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxLLMErrorBody {
		msg = msg[:maxLLMErrorBody]
	}
	return msg
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultLLMEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultLLMEndpoint
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String()
}

func chatCompletionsURL(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultLLMEndpoint + "/chat/completions"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		parsed.Path = path
	case strings.HasSuffix(path, "/v1"):
		parsed.Path = path + "/chat/completions"
	default:
		parsed.Path = path + "/v1/chat/completions"
	}
	return parsed.String()
}
