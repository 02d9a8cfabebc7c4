package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/user/metatron/internal/types"
)

func notConfigured(service string) string {
	return fmt.Sprintf("%s is not configured in this deployment. Let the user know this capability is unavailable.", service)
}

// SearchMemory searches the user's stored memories.
type SearchMemory struct{}

func NewSearchMemory() *SearchMemory { return &SearchMemory{} }

func (s *SearchMemory) Name() string { return "search_memory" }
func (s *SearchMemory) Description() string {
	return "Search through conversation memory and stored information about the user"
}
func (s *SearchMemory) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to look for"},
			"limit": {"type": "integer", "description": "Maximum entries (default: 5)"}
		},
		"required": ["query"]
	}`)
}

func (s *SearchMemory) Execute(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("query", params.Query); err != nil {
		return "", err
	}
	if deps.Services.Memory == nil {
		return notConfigured("Memory"), nil
	}
	entries, err := deps.Services.Memory.Search(ctx, deps.UserID, params.Query, clamp(params.Limit, 5, 50))
	if err != nil {
		return "", fmt.Errorf("search memory: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No memories found for '%s'.", params.Query), nil
	}
	return fmt.Sprintf("Memory search results for '%s':\n- %s", params.Query, strings.Join(entries, "\n- ")), nil
}

var creativeTypes = []string{"image", "video", "audio", "text", "design"}

// CreativeStudio generates media through the creative service.
type CreativeStudio struct{}

func NewCreativeStudio() *CreativeStudio { return &CreativeStudio{} }

func (c *CreativeStudio) Name() string { return "use_creative_studio" }
func (c *CreativeStudio) Description() string {
	return "Generate creative content like images, videos, or other media"
}
func (c *CreativeStudio) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_type": {"type": "string", "enum": ["image", "video", "audio", "text", "design"]},
			"description": {"type": "string", "description": "What to create"},
			"parameters": {"type": "object", "description": "Generation options"}
		},
		"required": ["task_type", "description"]
	}`)
}

func (c *CreativeStudio) Execute(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		TaskType    string         `json:"task_type"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("description", params.Description); err != nil {
		return "", err
	}
	if !oneOf(params.TaskType, creativeTypes) {
		return fmt.Sprintf("Unsupported creative task type: %s. Supported types: %s", params.TaskType, strings.Join(creativeTypes, ", ")), nil
	}
	if deps.Services.Creative == nil {
		return notConfigured("Creative Studio"), nil
	}
	out, err := deps.Services.Creative.Generate(ctx, deps.UserID, params.TaskType, params.Description, params.Parameters)
	if err != nil {
		return "", fmt.Errorf("creative studio %s: %w", params.TaskType, err)
	}
	return fmt.Sprintf("Creative Studio completed %s generation: %s\nResult: %s", params.TaskType, params.Description, out), nil
}

var (
	socialActions   = []string{"post", "schedule", "analyze", "engage", "monitor"}
	socialPlatforms = []string{"twitter", "facebook", "instagram", "linkedin", "youtube", "tiktok"}
)

// SocialMedia manages posts through the social station service.
type SocialMedia struct{}

func NewSocialMedia() *SocialMedia { return &SocialMedia{} }

func (s *SocialMedia) Name() string        { return "manage_social_media" }
func (s *SocialMedia) Description() string { return "Manage social media posts and interactions" }
func (s *SocialMedia) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["post", "schedule", "analyze", "engage", "monitor"]},
			"platform": {"type": "string", "enum": ["twitter", "facebook", "instagram", "linkedin", "youtube", "tiktok"]},
			"content": {"type": "string", "description": "Post content"}
		},
		"required": ["action", "platform"]
	}`)
}

func (s *SocialMedia) Execute(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		Action   string `json:"action"`
		Platform string `json:"platform"`
		Content  string `json:"content"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	params.Platform = strings.ToLower(params.Platform)
	if !oneOf(params.Action, socialActions) {
		return fmt.Sprintf("Unsupported action: %s. Supported actions: %s", params.Action, strings.Join(socialActions, ", ")), nil
	}
	if !oneOf(params.Platform, socialPlatforms) {
		return fmt.Sprintf("Unsupported platform: %s. Supported platforms: %s", params.Platform, strings.Join(socialPlatforms, ", ")), nil
	}
	if deps.Services.Social == nil {
		return notConfigured("Social Station"), nil
	}
	out, err := deps.Services.Social.Perform(ctx, deps.UserID, params.Action, params.Platform, params.Content)
	if err != nil {
		return "", fmt.Errorf("social station %s: %w", params.Action, err)
	}
	return fmt.Sprintf("Social Station %s completed on %s\n%s", params.Action, params.Platform, out), nil
}

var mediaTypes = []string{"image", "video", "audio"}

// UnderstandMedia analyses images and video through the media service.
type UnderstandMedia struct{}

func NewUnderstandMedia() *UnderstandMedia { return &UnderstandMedia{} }

func (u *UnderstandMedia) Name() string { return "understand_media" }
func (u *UnderstandMedia) Description() string {
	return "Understand and analyze images, videos, and other media content"
}
func (u *UnderstandMedia) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"media_path": {"type": "string", "description": "URL of the media"},
			"media_type": {"type": "string", "enum": ["image", "video", "audio"]},
			"analysis_type": {"type": "string", "description": "What to analyze (default: comprehensive)"}
		},
		"required": ["media_path", "media_type"]
	}`)
}

func (u *UnderstandMedia) Execute(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		MediaPath    string `json:"media_path"`
		MediaType    string `json:"media_type"`
		AnalysisType string `json:"analysis_type"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("media_path", params.MediaPath); err != nil {
		return "", err
	}
	if !oneOf(params.MediaType, mediaTypes) {
		return fmt.Sprintf("Unsupported media type: %s. Supported types: %s", params.MediaType, strings.Join(mediaTypes, ", ")), nil
	}
	if params.AnalysisType == "" {
		params.AnalysisType = "comprehensive"
	}
	if deps.Services.Media == nil {
		return notConfigured("Media understanding"), nil
	}
	question := fmt.Sprintf("Provide a %s analysis of this %s.", params.AnalysisType, params.MediaType)
	out, err := deps.Services.Media.Understand(ctx, deps.UserID, params.MediaPath, question)
	if err != nil {
		return "", fmt.Errorf("understand %s: %w", params.MediaType, err)
	}
	return out, nil
}

var documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}

// ProcessDocument extracts text from documents through the document service.
type ProcessDocument struct{}

func NewProcessDocument() *ProcessDocument { return &ProcessDocument{} }

func (p *ProcessDocument) Name() string { return "process_document" }
func (p *ProcessDocument) Description() string {
	return "Process documents (PDF, Word, Excel) and extract information"
}
func (p *ProcessDocument) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "URL of the document"},
			"action": {"type": "string", "enum": ["extract_text"], "description": "default: extract_text"}
		},
		"required": ["file_path"]
	}`)
}

func (p *ProcessDocument) Execute(ctx context.Context, deps *types.Deps, args json.RawMessage) (string, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Action   string `json:"action"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return "", err
	}
	if err := required("file_path", params.FilePath); err != nil {
		return "", err
	}
	if params.Action == "" {
		params.Action = "extract_text"
	}
	if params.Action != "extract_text" {
		return fmt.Sprintf("Unsupported action: %s", params.Action), nil
	}
	ext := strings.ToLower(path.Ext(strings.SplitN(params.FilePath, "?", 2)[0]))
	if !oneOf(ext, documentExtensions) {
		return fmt.Sprintf("Unsupported file type: %s", strings.TrimPrefix(ext, ".")), nil
	}
	if deps.Services.Documents == nil {
		return notConfigured("Document processing"), nil
	}
	out, err := deps.Services.Documents.Process(ctx, deps.UserID, params.FilePath, params.Action)
	if err != nil {
		return "", fmt.Errorf("process document: %w", err)
	}
	return fmt.Sprintf("Text extracted from %s:\n\n%s", params.FilePath, excerpt(out, pagePreviewSize)), nil
}
