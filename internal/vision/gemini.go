package vision

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"google.golang.org/genai"
)

// Extractor turns a receipt photo into the raw CSV text produced by the
// model. The caller owns parsing and validation of that text.
type Extractor interface {
	ExtractCSV(ctx context.Context, imageBytes []byte, mimeType string) (string, error)
}

// extractionPrompt pins the model to the exact contract the parser
// expects: a classification marker, then the CSV header, then data
// lines with integer yen amounts.
const extractionPrompt = `You are given a photo. First decide whether it shows a purchase receipt.

Reply with exactly one line "IS_RECEIPT: true" or "IS_RECEIPT: false".

If it is a receipt, follow that line with CSV data:
- Header line exactly: store_name,total_amount,receipt_date
- One data line per receipt in the photo (usually one).
- store_name: the store name as printed, in its original language.
- total_amount: the total paid, integer yen, digits only. No currency symbols, no thousands separators.
- receipt_date: the purchase date as YYYY-MM-DD, or leave the field empty if it cannot be read.

Do NOT wrap the output in Markdown fences. Do NOT add any other text.`

// GeminiExtractor calls the Gemini API with the photo inline.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

func NewGeminiExtractor(ctx context.Context, model string) (*GeminiExtractor, error) {
	// API key comes from GEMINI_API_KEY via the client config defaults.
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

func (e *GeminiExtractor) ExtractCSV(ctx context.Context, imageBytes []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: extractionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     imageBytes,
					},
				},
			},
		},
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model %s", e.model)
	}
	return text, nil
}

// MIMEForPath maps a photo filename to the MIME type sent inline with
// the extraction request.
func MIMEForPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
