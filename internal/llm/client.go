package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/errors"
	"github.com/mkoskin/inflow/internal/resilience"
)

// ServiceName identifies the clarification API in breaker state and logs.
const ServiceName = "llm_api"

const systemPrompt = `You are a conservative GTD clarification assistant.

Your task is to interpret a raw capture and propose a GTD-consistent clarification.

Core principles:
- NEVER invent commitments, tasks, or goals.
- Be conservative. If unsure, lower confidence.
- Prefer "non-actionable" over guessing intent.
- Treat test messages, meta comments, or system checks as trash.

Language rules:
- The raw capture may be in English, Finnish, or mixed language.
- Regardless of input language, ALL generated output MUST be in Finnish.
- Use natural Finnish GTD phrasing.
- For projects, prefer noun-based outcome names (e.g. "Uuden auton hankinta").
- Use either noun form for projects or imperative form for actions.
- Do NOT preserve the original language in the output.

Classification rules:
- Decide whether the capture is:
  - a single standalone action (small, self-contained, no further steps needed)
  - a project (requires more than one step, has a larger goal)
  - or non-actionable
- If it is a project OR the capture is clearly part of a larger goal, you MUST:
  - provide a clear project_name (infer if needed from context)
  - provide a project_shortname: 2-6 uppercase letters, memorable and
    unique, derived from the project's core theme (e.g. "KUVA", "AUTO")
  - provide the FIRST concrete next_action for that project, in the
    format: PROJECT_SHORTNAME --- Task description
- ONLY classify as standalone action if it is a single self-contained
  action with no implicit larger goal.
- An action must be a physical, visible action.

When proposing an action:
- It must be the very first doable step, specific enough to start
  immediately without further thinking.
- Start with a clear imperative verb. Prefer verbs from this list:
  Selvitä, Listaa, Etsi, Lue, Kirjoita, Soita, Lähetä, Osta, Hae, Vie, Täytä, Päivitä
- If you cannot make it concrete without guessing, lower the confidence score.

Rules for assigning a context:
- Assign a context ONLY if the action strictly requires being in that place.
- If an action could be done anywhere, leave suggested_context EMPTY.

Confidence:
- confidence_score MUST be a float between 0.0 and 1.0
- Use high confidence ONLY when intent is very clear.

Return ONLY valid JSON matching this schema exactly:
{
  "type": "project" | "action" | "next_action" | "non_actionable",
  "clarified_text": string,
  "project_name": string | null,
  "project_shortname": string | null,
  "next_action": string | null,
  "suggested_context": string | null,
  "due_date": string | null,
  "notes": string | null,
  "ambiguities": string | null,
  "confidence_score": float
}`

// Client calls an OpenAI-compatible chat completion endpoint to clarify
// raw captures.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	caller  *resilience.Caller
	log     *slog.Logger
}

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Policy  resilience.Policy
}

// New creates a clarification client. The breaker registry supplies the
// circuit protecting the endpoint.
func New(opts Options, reg *resilience.Registry, log *slog.Logger) *Client {
	return &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		http:    &http.Client{Timeout: opts.Timeout},
		caller: &resilience.Caller{
			Service: ServiceName,
			Breaker: reg.Get(ServiceName),
			Policy:  opts.Policy,
			Log:     log,
		},
		log: log,
	}
}

// Configured reports whether the client has credentials. Without them
// clarification is simply disabled, not an error.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
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
	Error   *chatError `json:"error,omitempty"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Message string `json:"message"`
}

// Clarify sends the raw text through the clarification prompt and
// returns the parsed result plus the model's verbatim JSON, which is
// persisted as the audit record.
func (c *Client) Clarify(ctx context.Context, rawText string) (*capture.Clarification, string, error) {
	if !c.Configured() {
		return nil, "", errors.NewServiceUnavailable(ServiceName)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(rawText)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, "", errors.NewInternal(err)
	}

	var content string
	err = c.caller.Do(ctx, "clarify", func(ctx context.Context) error {
		content, err = c.complete(ctx, body)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	clar, err := capture.ParseClarification([]byte(content))
	if err != nil {
		return nil, "", err
	}
	return clar, content, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &resilience.HTTPError{Status: resp.StatusCode, Body: truncate(string(data), 200)}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("completion error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion response")
	}

	return out.Choices[0].Message.Content, nil
}

func userPrompt(rawText string) string {
	return "Raaka GTD-tiivistys alla. Analysoi ja palauta vain JSON yllä kuvatun skeeman mukaisesti.\n\n---\n\n" + rawText
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
