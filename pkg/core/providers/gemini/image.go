package gemini

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
)

var errNoContent = errors.New("gemini: response has no content")

// GenerateImage renders a medical illustration for prompt.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (tools.Image, error) {
	cfg := &genai.GenerateContentConfig{}
	cfg.ResponseModalities = append(cfg.ResponseModalities, "IMAGE", "TEXT")

	resp, err := p.generate(ctx, "generate image", p.cfg.ImageModel, genai.Text(prompt), cfg)
	if err != nil {
		return tools.Image{}, err
	}
	img, ok := firstImage(resp)
	if !ok {
		return tools.Image{}, tools.ErrNoImage
	}
	return img, nil
}

func firstImage(resp *genai.GenerateContentResponse) (tools.Image, bool) {
	for _, part := range candidateParts(resp) {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		if !strings.HasPrefix(part.InlineData.MIMEType, "image/") {
			continue
		}
		return tools.Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, true
	}
	return tools.Image{}, false
}

func candidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return nil
	}
	out := make([]*genai.Part, 0, len(c.Content.Parts))
	for _, part := range c.Content.Parts {
		if part != nil {
			out = append(out, part)
		}
	}
	return out
}
