package tools

import (
	"context"
	"encoding/base64"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// Image is generated image bytes.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageGenerator produces one image from a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// ImageStore turns image bytes into a reference a transcript can carry.
type ImageStore interface {
	Put(ctx context.Context, img Image) (string, error)
}

// DataURLStore inlines images as data: URLs.
type DataURLStore struct{}

func (DataURLStore) Put(_ context.Context, img Image) (string, error) {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data), nil
}

// ImageExecutor handles generate_medical_illustration.
type ImageExecutor struct {
	Generator ImageGenerator
	Store     ImageStore
	Messages  Messages
	Logger    *slog.Logger
}

// Execute posts a status marker, generates the image and attaches it to the
// turnID message. On failure the marker is replaced by an error message.
func (e *ImageExecutor) Execute(ctx context.Context, req ImageRequest, turnID string, t Transcript) Result {
	msgs := e.Messages.withDefaults()
	statusID := t.NewID(transcript.PrefixImageStatus)
	t.Append(types.Message{ID: statusID, Sender: types.SenderSystem, Text: formatStatus(msgs.ImageStatus, req.Prompt)})

	ctx, span := startSpan(ctx, "tools.generate_image",
		attribute.String("tool", ImageToolName),
		attribute.String("turn_id", turnID),
	)
	url, err := e.generate(ctx, req.Prompt)
	endSpan(span, err)

	if err != nil {
		t.ReplaceStatus(statusID, types.Message{
			ID:     t.NewID(transcript.PrefixImageError),
			Sender: types.SenderSystem,
			Text:   msgs.ImageFailure,
		})
		return Result{Response: map[string]any{"error": msgs.ImageFailure}, Err: err}
	}
	t.AttachImage(turnID, url, statusID)
	return Result{Response: map[string]any{"result": msgs.ImageResult}}
}

func (e *ImageExecutor) generate(ctx context.Context, prompt string) (string, error) {
	if e.Generator == nil {
		return "", ErrUnavailable
	}
	img, err := e.Generator.GenerateImage(ctx, prompt)
	if err != nil {
		return "", err
	}
	if len(img.Data) == 0 {
		return "", ErrNoImage
	}
	store := e.Store
	if store == nil {
		store = DataURLStore{}
	}
	return store.Put(ctx, img)
}
