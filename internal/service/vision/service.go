package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"expirysnap/internal/config"
	"expirysnap/internal/models"
)

const fieldsPrompt = `You are reading a photo of a product package. ` +
	`Identify the product name and the expiry date (look for EXP, Best Before, Use By). ` +
	`If the user supplies hints, prefer them over uncertain guesses. ` +
	`Respond with ONLY a JSON object of the form {"product": "...", "expiryDate": "YYYY-MM-DD"}. ` +
	`Leave a field as an empty string when it cannot be read from the image.`

const textPrompt = `Extract ALL visible text from this image.
Focus on:
- Product names
- Expiry dates (MFG, EXP, Best Before, Use By)
- Batch numbers
- Any other readable text

Return the extracted text in a clear, organized format. If no text is found, return "No text detected".`

// Service answers single-shot vision questions against a provider's chat
// model. It is stateless; every call carries the full image payload.
type Service struct {
	chatModel model.ToolCallingChatModel
}

// NewService builds the chat model for the configured provider.
func NewService(cfg *config.Config, provider string) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var chatModel model.ToolCallingChatModel
	var err error

	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &Service{chatModel: chatModel}, nil
}

// ExtractFields asks the model for the product name and expiry date.
// Current local values are passed as hints so manual edits survive.
func (s *Service) ExtractFields(ctx context.Context, image []byte, contentType, hintProduct, hintDate string) (models.FieldResult, error) {
	prompt := fieldsPrompt
	if hintProduct != "" || hintDate != "" {
		prompt += fmt.Sprintf("\nHints from the user: product=%q, expiryDate=%q.", hintProduct, hintDate)
	}

	resp, err := s.chatModel.Generate(ctx, imageMessages(prompt, image, contentType))
	if err != nil {
		return models.FieldResult{}, fmt.Errorf("extract fields: %w", err)
	}
	return parseFieldResult(resp.Content)
}

// ExtractText returns all readable text in the image.
func (s *Service) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	resp, err := s.chatModel.Generate(ctx, imageMessages(textPrompt, image, contentType))
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "No text detected", nil
	}
	return text, nil
}

func imageMessages(prompt string, image []byte, contentType string) []*schema.Message {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))
	return []*schema.Message{
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{
					Type: schema.ChatMessagePartTypeText,
					Text: prompt,
				},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:      dataURL,
						MIMEType: contentType,
					},
				},
			},
		},
	}
}

// parseFieldResult tolerates code fences and surrounding prose: the first
// balanced JSON object in the reply wins.
func parseFieldResult(reply string) (models.FieldResult, error) {
	var result models.FieldResult
	body := extractJSONObject(reply)
	if body == "" {
		return result, fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return result, fmt.Errorf("decode model reply: %w", err)
	}
	result.Product = strings.TrimSpace(result.Product)
	result.ExpiryDate = strings.TrimSpace(result.ExpiryDate)
	return result, nil
}

func extractJSONObject(reply string) string {
	start := strings.Index(reply, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		ch := reply[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return reply[start : i+1]
				}
			}
		}
	}
	return ""
}
