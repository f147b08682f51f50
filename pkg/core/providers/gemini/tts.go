package gemini

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

// Speak synthesizes text with the prebuilt voice and returns 24 kHz PCM16LE.
func (p *Provider) Speak(ctx context.Context, text, voiceName string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	}
	resp, err := p.generate(ctx, "speak", p.cfg.TTSModel, genai.Text(text), cfg)
	if err != nil {
		return nil, err
	}
	return speechAudio(resp)
}

// speechAudio concatenates the audio parts of resp at PlaybackSampleRate.
func speechAudio(resp *genai.GenerateContentResponse) ([]byte, error) {
	var buf bytes.Buffer
	for _, part := range candidateParts(resp) {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		pcm, err := voice.Decode(voice.Chunk{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
		if err != nil {
			return nil, fmt.Errorf("gemini speak: %w", err)
		}
		buf.Write(pcm)
	}
	if buf.Len() == 0 {
		return nil, errNoContent
	}
	return buf.Bytes(), nil
}
