package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/sirupsen/logrus"
)

const oracleInstruction = "Read the characters in this CAPTCHA image. Return exactly four numeric characters and nothing else."

var captchaAnswerPattern = regexp.MustCompile(`^\d{4}$`)

// ValidateCaptchaAnswer checks the shape of an oracle answer
func ValidateCaptchaAnswer(answer string) error {
	if !captchaAnswerPattern.MatchString(answer) {
		return fmt.Errorf("%w: %q", ErrOracleInvalidAnswer, answer)
	}
	return nil
}

// OpenAIOracle asks an OpenAI-compatible vision model to read CAPTCHA images
type OpenAIOracle struct {
	config config.OracleConfig
	http   *resty.Client
	logger *logrus.Logger
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIOracle creates a new oracle client
func NewOpenAIOracle(config config.OracleConfig, logger *logrus.Logger) *OpenAIOracle {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(config.BaseURL, "/"))
	client.SetAuthToken(config.APIKey)
	client.SetTimeout(config.Timeout)
	client.SetHeader("Content-Type", "application/json")

	return &OpenAIOracle{
		config: config,
		http:   client,
		logger: logger,
	}
}

// Solve sends the image and returns the trimmed model answer, unvalidated
func (o *OpenAIOracle) Solve(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}

	body := chatRequest{
		Model:     o.config.Model,
		MaxTokens: o.config.MaxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: oracleInstruction},
				{Type: "image_url", ImageURL: &chatImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image)),
				}},
			},
		}},
	}

	var result chatResponse
	var apiErr chatError
	res, err := o.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("oracle returned %d: %s", res.StatusCode(), apiErr.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}

	answer := strings.TrimSpace(result.Choices[0].Message.Content)
	o.logger.WithField("answer", answer).Debug("Oracle answered")
	return answer, nil
}
