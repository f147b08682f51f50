package tools

import "fmt"

// Messages are the user-facing strings written by the executors.
type Messages struct {
	ImageStatus   string `yaml:"image_status"`
	ImageFailure  string `yaml:"image_failure"`
	ImageResult   string `yaml:"image_result"`
	SearchStatus  string `yaml:"search_status"`
	SearchFailure string `yaml:"search_failure"`
}

// DefaultMessages returns the French strings.
func DefaultMessages() Messages {
	return Messages{
		ImageStatus:   `Génération de l'illustration pour : "%s"...`,
		ImageFailure:  "Échec de la génération de l'illustration. Veuillez réessayer.",
		ImageResult:   "OK, la génération de l'image a été déclenchée.",
		SearchStatus:  `Recherche de sources pour : "%s"...`,
		SearchFailure: "Échec de la recherche de sources. Veuillez réessayer.",
	}
}

// withDefaults fills empty fields from DefaultMessages.
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	if m.ImageStatus == "" {
		m.ImageStatus = d.ImageStatus
	}
	if m.ImageFailure == "" {
		m.ImageFailure = d.ImageFailure
	}
	if m.ImageResult == "" {
		m.ImageResult = d.ImageResult
	}
	if m.SearchStatus == "" {
		m.SearchStatus = d.SearchStatus
	}
	if m.SearchFailure == "" {
		m.SearchFailure = d.SearchFailure
	}
	return m
}

// WithDefaults is withDefaults for callers outside the package.
func (m Messages) WithDefaults() Messages { return m.withDefaults() }

func formatStatus(format, arg string) string {
	return fmt.Sprintf(format, arg)
}
