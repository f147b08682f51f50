package live

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

// Profile holds the locale-specific wording of a session.
type Profile struct {
	SystemInstruction  string         `yaml:"system_instruction"`
	StopPhrases        []string       `yaml:"stop_phrases"`
	Goodbye            string         `yaml:"goodbye"`
	TranscriptionError string         `yaml:"transcription_error"`
	Tools              tools.Messages `yaml:"tools"`
}

// DefaultProfile returns the French gynecology assistant profile.
func DefaultProfile() Profile {
	return Profile{
		SystemInstruction: "Vous êtes TerranoGyneco, un assistant médical IA de pointe spécialisé en gynécologie. " +
			"Vous conversez avec un gynécologue professionnel. Fournissez des réponses précises, détaillées et basées sur des preuves à leurs questions. " +
			"Votre ton doit être professionnel, précis et collaboratif. " +
			"Lorsqu'on vous demande une illustration ou une image, utilisez l'outil `generate_medical_illustration` pour créer une image médicalement précise pour appuyer votre explication. " +
			"Lorsqu'on vous demande des sources, des références ou des études, utilisez l'outil `search_medical_sources` puis résumez oralement ce qu'il renvoie.",
		StopPhrases: []string{
			"c'est bon",
			"ça va comme ça",
			"ça suffit",
			"merci c'est tout",
			"c'est tout merci",
			"arrête",
			"stop",
			"terminer la session",
			"terminer la conversation",
			"fin de la conversation",
			"au revoir",
		},
		Goodbye:            "Entendu. La session est terminée. N'hésitez pas si vous avez d'autres questions plus tard. Au revoir.",
		TranscriptionError: "Désolé, une erreur de transcription est survenue. Veuillez réessayer de parler.",
		Tools:              tools.DefaultMessages(),
	}
}

// LoadProfile reads a YAML profile and fills unset fields from
// DefaultProfile. An empty path returns DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var loaded Profile
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return loaded.merge(p), nil
}

func (p Profile) merge(def Profile) Profile {
	if strings.TrimSpace(p.SystemInstruction) == "" {
		p.SystemInstruction = def.SystemInstruction
	}
	if len(p.StopPhrases) == 0 {
		p.StopPhrases = def.StopPhrases
	}
	if strings.TrimSpace(p.Goodbye) == "" {
		p.Goodbye = def.Goodbye
	}
	if strings.TrimSpace(p.TranscriptionError) == "" {
		p.TranscriptionError = def.TranscriptionError
	}
	p.Tools = p.Tools.WithDefaults()
	return p
}

// Config configures a Controller.
type Config struct {
	// ConversationID and Title identify the stored conversation the
	// transcript belongs to.
	ConversationID string
	Title          string
	CreatedAt      time.Time

	Voice         string
	MicGain       float64
	Transcription bool
	FrameSamples  int

	Profile Profile

	// InactivityTimeout moves an active session to ERROR when no remote
	// event arrives for this long. Zero disables it.
	InactivityTimeout time.Duration
	ToolTimeout       time.Duration
	GoodbyeTimeout    time.Duration
	SaveTimeout       time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Title:          types.DefaultConversationTitle,
		Voice:          types.DefaultVoice,
		MicGain:        voice.DefaultGain,
		Transcription:  true,
		FrameSamples:   voice.DefaultFrameSamples,
		Profile:        DefaultProfile(),
		ToolTimeout:    60 * time.Second,
		GoodbyeTimeout: 15 * time.Second,
		SaveTimeout:    5 * time.Second,
	}
}

// Validate checks the configuration and normalizes the voice name.
func (c *Config) Validate() error {
	v, ok := types.NormalizeVoice(c.Voice)
	if !ok {
		return fmt.Errorf("unknown voice %q (want one of %s)", c.Voice, strings.Join(types.Voices, ", "))
	}
	c.Voice = v
	if err := voice.ValidateGain(c.MicGain); err != nil {
		return err
	}
	if c.InactivityTimeout < 0 {
		return errors.New("inactivity timeout must be >= 0")
	}
	if c.Title == "" {
		c.Title = types.DefaultConversationTitle
	}
	return nil
}
