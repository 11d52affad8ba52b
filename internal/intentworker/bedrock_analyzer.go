package intentworker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/mailguard/internal/domain"
)

// BedrockAnalyzer is an Analyzer backed by AWS Bedrock (Claude). All
// classification stays inside AWS — no third-party LLM API calls.
type BedrockAnalyzer struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

type bedrockMessage struct {
	Role    string               `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// classificationPayload is the JSON shape the system prompt instructs
// Claude to answer with — the only thing this analyzer parses out of the
// model's response.
type classificationPayload struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

const classifierSystemPrompt = `You are an email threat triage classifier. Given a subject and body, respond with ONLY a JSON object of the form {"intent": "<tag>", "confidence": <0..1>, "indicators": ["<short tag>", ...]}.

Valid intent tags: phishing, malware, social-engineering, bec-fraud, reconnaissance, spam, invoice, payment, sales, meeting-request, task-request, follow-up, support, newsletter, personal, unknown.

Use "unknown" with low confidence if the email doesn't clearly match a tag. Do not include any text outside the JSON object.`

// NewBedrockAnalyzer creates a BedrockAnalyzer. modelID defaults to Claude 3
// Sonnet if empty; region is read from AWS_REGION, defaulting to us-east-1.
func NewBedrockAnalyzer(ctx context.Context, modelID string) (*BedrockAnalyzer, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if modelID == "" {
		modelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	return &BedrockAnalyzer{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		region:  region,
	}, nil
}

// Classify implements Analyzer by invoking Claude via Bedrock's InvokeModel
// API with a classification-only system prompt, then parsing its JSON
// reply. A malformed or non-JSON reply is treated as an analyzer error
// (per spec.md §4.2, this marks the event FAILED rather than guessing).
func (a *BedrockAnalyzer) Classify(ctx context.Context, subject, body string) (domain.Intent, float64, []string, error) {
	userText := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, body)

	request := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        512,
		System:           classifierSystemPrompt,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: userText}}},
		},
		Temperature: 0,
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return "", 0, nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        reqBody,
	})
	if err != nil {
		return "", 0, nil, fmt.Errorf("bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return "", 0, nil, fmt.Errorf("parse bedrock response: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	raw := extractJSONObject(text.String())
	var payload classificationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", 0, nil, fmt.Errorf("parse classification payload: %w", err)
	}

	intent := domain.Intent(payload.Intent)
	if !domain.ValidIntent(string(intent)) {
		intent = domain.IntentUnknown
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}

	return intent, payload.Confidence, payload.Indicators, nil
}

// extractJSONObject trims any stray prose around the first {...} block,
// since models occasionally wrap JSON in a sentence despite instructions.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
