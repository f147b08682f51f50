package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
	"github.com/vango-go/terranogyneco/pkg/core/types"
)

const searchPrompt = `Tu es un assistant de recherche médicale. Trouve des sources fiables et récentes (recommandations de sociétés savantes, revues systématiques, essais cliniques) sur le sujet suivant : %q.
Réponds uniquement avec un objet JSON de la forme {"summary": "résumé en français en deux ou trois phrases", "sources": [{"title": "...", "uri": "https://...", "snippet": "..."}]}.`

// SearchSources asks the search model, grounded with Google Search, for
// sources about query.
func (p *Provider) SearchSources(ctx context.Context, query string) (tools.SearchResult, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	resp, err := p.generate(ctx, "search", p.cfg.SearchModel, genai.Text(fmt.Sprintf(searchPrompt, query)), cfg)
	if err != nil {
		return tools.SearchResult{}, err
	}
	res := searchResult(resp)
	if strings.TrimSpace(res.Raw) == "" && len(res.Grounding) == 0 {
		return tools.SearchResult{}, errNoContent
	}
	return res, nil
}

func searchResult(resp *genai.GenerateContentResponse) tools.SearchResult {
	var sb strings.Builder
	for _, part := range candidateParts(resp) {
		sb.WriteString(part.Text)
	}
	res := tools.SearchResult{Raw: sb.String()}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return res
	}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil {
		return res
	}
	for _, chunk := range gm.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		res.Grounding = append(res.Grounding, types.Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return res
}
