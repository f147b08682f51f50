package gemini

import (
	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
)

func imageDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        tools.ImageToolName,
		Description: "Génère une illustration médicalement précise basée sur une description textuelle. À utiliser lorsque l'utilisateur demande une image, un diagramme ou une illustration.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"prompt": {
					Type:        genai.TypeString,
					Description: `Une description détaillée de l'illustration médicale à générer. Par exemple : "une illustration de l'endométriose sur les ovaires".`,
				},
			},
			Required: []string{"prompt"},
		},
	}
}

func searchDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        tools.SearchToolName,
		Description: "Recherche des sources médicales fiables (études, recommandations, revues) sur un sujet. À utiliser lorsque l'utilisateur demande des sources, des références ou des études.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "Le sujet médical à rechercher, formulé comme une requête de recherche.",
				},
			},
			Required: []string{"query"},
		},
	}
}

// toolsFor returns the declarations for the named tools. Unknown names are
// skipped.
func toolsFor(names []string) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	for _, name := range names {
		switch name {
		case tools.ImageToolName:
			decls = append(decls, imageDeclaration())
		case tools.SearchToolName:
			decls = append(decls, searchDeclaration())
		}
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
