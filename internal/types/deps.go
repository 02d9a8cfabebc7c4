package types

import "context"

// Deps is the dependency context handed to every tool invocation. It is
// built once per request and must be treated as read-only by tools.
type Deps struct {
	SessionID    SessionID
	UserID       string
	Workspace    string
	DeepResearch bool
	Config       map[string]any
	Services     Services
}

// Services are optional collaborators. A nil field means the capability is
// not configured in this deployment.
type Services struct {
	Memory    MemoryService
	Creative  CreativeStudio
	Social    SocialStation
	Media     MediaAnalyzer
	Documents DocumentProcessor
}

type MemoryService interface {
	Search(ctx context.Context, userID, query string, limit int) ([]string, error)
}

type CreativeStudio interface {
	Generate(ctx context.Context, userID, kind, prompt string, options map[string]any) (string, error)
}

type SocialStation interface {
	Perform(ctx context.Context, userID, action, platform, content string) (string, error)
}

type MediaAnalyzer interface {
	Understand(ctx context.Context, userID, mediaURL, question string) (string, error)
}

type DocumentProcessor interface {
	Process(ctx context.Context, userID, documentURL, task string) (string, error)
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Event, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, sessionID SessionID, runID RunID, tool string, data string) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) (string, *ArtifactMeta, error)
}
