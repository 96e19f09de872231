// Package openrouter grades submissions with a vision-capable chat model served by OpenRouter.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/assessment"
)

var fenceRegex = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

type (
	imageURL struct {
		URL string `json:"url"`
	}

	contentPart struct {
		Type     string    `json:"type"`
		Text     string    `json:"text,omitempty"`
		ImageURL *imageURL `json:"image_url,omitempty"`
	}

	message struct {
		Role    string      `json:"role"`
		Content interface{} `json:"content"` // string or []contentPart
	}

	completionRequest struct {
		Model          string            `json:"model"`
		Messages       []message         `json:"messages"`
		Temperature    float64           `json:"temperature"`
		ResponseFormat map[string]string `json:"response_format,omitempty"`
	}
)

type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

var _ assessment.Grader = (*Client)(nil)

func NewClient(conf core.OpenRouterConfig, httpClient *http.Client) (*Client, error) {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(conf.APIKey, "apiKey"),
		vala.StringNotEmpty(conf.BaseURL, "baseURL"),
		vala.StringNotEmpty(conf.Model, "model"),
	).Check(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		timeout := conf.Timeout
		if timeout == 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if conf.RequestsPerSecond > 0 {
		limit = rate.Limit(conf.RequestsPerSecond)
	}
	return &Client{
		apiKey:  conf.APIKey,
		baseURL: strings.TrimSuffix(conf.BaseURL, "/"),
		model:   conf.Model,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// complete sends a chat completion and returns the JSON content of the first choice.
func (c *Client) complete(ctx context.Context, messages []message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "waiting for rate limiter")
	}

	body, err := json.Marshal(completionRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding completion request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "calling openrouter")
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading completion response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = string(raw)
		}
		return "", errors.Errorf("openrouter: status %d: %s", res.StatusCode, msg)
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", errors.New("openrouter: empty completion")
	}
	out := stripFence(content.String())
	if !gjson.Valid(out) {
		return "", errors.Errorf("openrouter: completion is not JSON: %.200s", out)
	}
	return out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func userMessage(text string, imageURLs []string) message {
	if len(imageURLs) == 0 {
		return message{Role: "user", Content: text}
	}
	parts := make([]contentPart, 0, len(imageURLs)+1)
	parts = append(parts, contentPart{Type: "text", Text: text})
	for _, u := range imageURLs {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}
	return message{Role: "user", Content: parts}
}

func confidence(res gjson.Result) float64 {
	c := res.Get("confidence")
	if !c.Exists() {
		return 0.5
	}
	f := c.Float()
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
