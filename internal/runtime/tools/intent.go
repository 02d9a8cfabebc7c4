package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/metatron/internal/intent"
	"github.com/user/metatron/internal/types"
)

// DetectContentIntent exposes the intent classifier to the model.
type DetectContentIntent struct {
	classifier *intent.Classifier
}

func NewDetectContentIntent() *DetectContentIntent {
	return &DetectContentIntent{classifier: intent.New()}
}

func (d *DetectContentIntent) Name() string { return "detect_content_intent" }
func (d *DetectContentIntent) Description() string {
	return "Analyze a message to detect whether it asks for visual content such as charts, images, videos or maps"
}
func (d *DetectContentIntent) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "The message to analyze"}
		},
		"required": ["message"]
	}`)
}

func (d *DetectContentIntent) Execute(_ context.Context, _ *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Message string `json:"message"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("message", params.Message); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(d.classifier.Classify(params.Message), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode detection: %w", err)
	}
	return string(out), nil
}
