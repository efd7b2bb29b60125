package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	flowerrors "github.com/flowloom/flowloom/internal/errors"
)

// OpenAIExecutor runs prompts against the OpenAI responses API.
//
// Network failures and 5xx responses are retried up to MaxRetries attempts
// with a short pause; 4xx responses fail fast.
type OpenAIExecutor struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey authenticates requests. Falls back to OPENAI_API_KEY.
	APIKey string

	// Model, ServiceTier and ReasoningEffort are request options applied
	// to every openai step of the run.
	Model           string
	ServiceTier     string
	ReasoningEffort string

	// MaxRetries is the attempt budget for network errors. Defaults to 3.
	MaxRetries int

	// Client is the HTTP client. Defaults to http.DefaultClient.
	Client *http.Client

	// retryPause is overridable in tests.
	retryPause time.Duration
}

// NewOpenAIExecutor creates an OpenAIExecutor with the given request options.
func NewOpenAIExecutor(baseURL, model, serviceTier, reasoningEffort string) *OpenAIExecutor {
	return &OpenAIExecutor{
		BaseURL:         baseURL,
		Model:           model,
		ServiceTier:     serviceTier,
		ReasoningEffort: reasoningEffort,
		MaxRetries:      3,
		retryPause:      time.Second,
	}
}

// apiRequest is the responses API request body.
type apiRequest struct {
	Model       string        `json:"model"`
	Input       string        `json:"input"`
	ServiceTier string        `json:"service_tier,omitempty"`
	Reasoning   *apiReasoning `json:"reasoning,omitempty"`
	Tools       []apiTool     `json:"tools,omitempty"`
}

type apiReasoning struct {
	Effort string `json:"effort"`
}

type apiTool struct {
	Type string `json:"type"`
}

// apiResponse is the subset of the responses API body the engine needs.
type apiResponse struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Execute sends the interpolated prompt to the API. The extracted output
// text is the step output; the raw response body and the text are persisted
// as invocation artifacts.
func (e *OpenAIExecutor) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(e.buildRequest(inv))
	if err != nil {
		return nil, flowerrors.ExecFailed(inv.StepIndex, "openai", err)
	}

	retries := e.MaxRetries
	if retries < 1 {
		retries = 1
	}
	pause := e.retryPause
	if pause == 0 {
		pause = time.Second
	}

	var raw []byte
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-runCtx.Done():
				return nil, e.ctxError(runCtx, ctx, inv)
			case <-time.After(pause):
			}
		}

		var retryable bool
		raw, retryable, lastErr = e.send(runCtx, body)
		if lastErr == nil {
			break
		}
		if runCtx.Err() != nil {
			return nil, e.ctxError(runCtx, ctx, inv)
		}
		if !retryable {
			return nil, flowerrors.ExecFailed(inv.StepIndex, "openai", lastErr)
		}
	}
	if lastErr != nil {
		return nil, flowerrors.ExecFailed(inv.StepIndex, "openai", lastErr)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, flowerrors.ExecFailed(inv.StepIndex, "openai", fmt.Errorf("decoding response: %w", err))
	}
	if parsed.Error != nil {
		return nil, flowerrors.ExecFailed(inv.StepIndex, "openai",
			fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	res := &Result{Output: extractText(&parsed)}

	if inv.Dir != "" {
		respPath := filepath.Join(inv.Dir, fmt.Sprintf("step_%d_openai_response.json", inv.StepIndex))
		if err := os.WriteFile(respPath, raw, 0644); err != nil {
			return res, flowerrors.IOWriteError(respPath, err)
		}
		textPath := filepath.Join(inv.Dir, fmt.Sprintf("step_%d_openai.txt", inv.StepIndex))
		if err := os.WriteFile(textPath, []byte(res.Output), 0644); err != nil {
			return res, flowerrors.IOWriteError(textPath, err)
		}
		res.MessagePath = textPath
	}

	return res, nil
}

// buildRequest assembles the request body for one invocation.
func (e *OpenAIExecutor) buildRequest(inv *Invocation) *apiRequest {
	req := &apiRequest{
		Model:       e.Model,
		Input:       inv.Prompt,
		ServiceTier: e.ServiceTier,
	}
	if e.ReasoningEffort != "" {
		req.Reasoning = &apiReasoning{Effort: e.ReasoningEffort}
	}
	if inv.Step != nil && inv.Step.WebSearch {
		req.Tools = append(req.Tools, apiTool{Type: "web_search"})
	}
	return req
}

// send performs one HTTP attempt. The bool reports whether a failure is
// retryable (network error or 5xx).
func (e *OpenAIExecutor) send(ctx context.Context, body []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey())

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("API returned %s: %s", resp.Status, truncate(raw, 200))
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("API returned %s: %s", resp.Status, truncate(raw, 200))
	}

	return raw, false, nil
}

// ctxError maps a context failure to the engine's taxonomy.
func (e *OpenAIExecutor) ctxError(runCtx, parent context.Context, inv *Invocation) error {
	if runCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return flowerrors.ExecTimeout(inv.StepIndex, "openai", inv.Timeout.String())
	}
	return parent.Err()
}

// apiKey resolves the API key, preferring the configured one.
func (e *OpenAIExecutor) apiKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// extractText pulls the first output text from a parsed response.
func extractText(resp *apiResponse) string {
	for _, out := range resp.Output {
		for _, c := range out.Content {
			if c.Type == "" || c.Type == "output_text" || c.Type == "text" {
				return c.Text
			}
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Executor = (*OpenAIExecutor)(nil)
