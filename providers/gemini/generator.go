package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const tryOnPrompt = `
I want the cloths product images to be worn by the person's image provided.
Show the size and fit as it would look upon the user.
Show 100% truth, do not change the person's image with new person's image in due process.
`

// Media is one generated artifact.
type Media struct {
	Data     []byte
	MIMEType string
}

// Generator produces try-on media from the person and product images.
type Generator interface {
	Generate(ctx context.Context, personImage []byte, productImages [][]byte) ([]Media, error)
}

// GenaiGenerator calls the Gemini image model.
type GenaiGenerator struct {
	apiKey string
	model  string
}

func NewGenerator(apiKey, model string) *GenaiGenerator {
	return &GenaiGenerator{apiKey: apiKey, model: model}
}

// Generate generates a virtual try-on image using Gemini
func (g *GenaiGenerator) Generate(ctx context.Context, personImage []byte, productImages [][]byte) ([]Media, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %v", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)

	parts := []genai.Part{
		genai.Text(tryOnPrompt),
		genai.ImageData("jpeg", personImage),
	}
	for _, img := range productImages {
		if len(img) == 0 {
			continue
		}
		parts = append(parts, genai.ImageData("jpeg", img))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %v", err)
	}

	var media []Media
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			// Text parts carry commentary only
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				media = append(media, Media{Data: blob.Data, MIMEType: blob.MIMEType})
			}
		}
	}

	if len(media) == 0 {
		return nil, fmt.Errorf("no image generated")
	}
	return media, nil
}

func fetchImage(ctx context.Context, pathOrURL string) ([]byte, error) {
	if !strings.HasPrefix(pathOrURL, "http") {
		return os.ReadFile(pathOrURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image, status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
