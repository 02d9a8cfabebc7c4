package intent

import "regexp"

// Scoring constants. They are tunable weights, kept at the values the
// routing behaviour was calibrated against.
const (
	// TriggerScore is added for every trigger pattern found in the message.
	TriggerScore = 20
	// EntityScore is added for every entity pattern with at least one match.
	EntityScore = 15
	// PrimaryThreshold is the minimum confidence for a non-text routing.
	PrimaryThreshold = 40
	// MaxConfidence caps a type's score.
	MaxConfidence = 100
	// MaxEntities caps the entities kept per type.
	MaxEntities = 3
)

// ContentType is a rendering destination for a message.
type ContentType string

const (
	Text  ContentType = "text"
	Chart ContentType = "chart"
	Image ContentType = "image"
	Video ContentType = "video"
	Map   ContentType = "map"
)

type entityPattern struct {
	re *regexp.Regexp
}

type rule struct {
	contentType ContentType
	triggers    []*regexp.Regexp
	entities    []entityPattern
}

func ci(expr string) *regexp.Regexp { return regexp.MustCompile(`(?i)` + expr) }

// cs compiles an entity pattern that must keep its case, such as uppercase
// ticker symbols.
func cs(expr string) entityPattern { return entityPattern{re: regexp.MustCompile(expr)} }

func ce(expr string) entityPattern { return entityPattern{re: ci(expr)} }

// rules is evaluated in order; ties in confidence keep this order.
var rules = []rule{
	{
		contentType: Chart,
		triggers: []*regexp.Regexp{
			ci(`\b(chart|graph|plot|visualize|visualization)\b`),
			ci(`\b(stock price|stock chart|price chart)\b`),
			ci(`\b(show.*data|display.*data)\b`),
			ci(`\b(trend|trends|trending)\b`),
			ci(`\b(analytics|statistics|stats)\b`),
			ci(`\b(compare.*data|comparison)\b`),
			ci(`\b(financial.*data|market.*data)\b`),
			ci(`\b(crypto.*price|cryptocurrency)\b`),
		},
		entities: []entityPattern{
			cs(`\b([A-Z]{2,5})\b`),
			ce(`\b(bitcoin|btc|ethereum|eth|crypto)\b`),
			ce(`\b(\d+%|\$\d+)\b`),
		},
	},
	{
		contentType: Image,
		triggers: []*regexp.Regexp{
			ci(`\b(generate.*image|create.*image|make.*image)\b`),
			ci(`\b(show.*picture|display.*picture)\b`),
			ci(`\b(photo|photograph|pic)\b`),
			ci(`\b(draw|sketch|illustrate)\b`),
			ci(`\b(visual.*representation)\b`),
			ci(`\b(image.*of|picture.*of)\b`),
		},
		entities: []entityPattern{
			ce(`\b(of\s+)([^.!?]+)`),
			ce(`\b(showing\s+)([^.!?]+)`),
		},
	},
	{
		contentType: Video,
		triggers: []*regexp.Regexp{
			ci(`\b(video|watch|youtube|play)\b`),
			ci(`\b(movie|film|clip)\b`),
			ci(`\b(tutorial|demo|demonstration)\b`),
			ci(`\b(youtube\.com|youtu\.be)\b`),
			ci(`\b(stream|streaming)\b`),
		},
		entities: []entityPattern{
			ce(`(https?://(?:www\.)?(?:youtube\.com/watch\?v=|youtu\.be/)[\w-]+)`),
			ce(`\b(tutorial.*on|demo.*of|video.*about)\s+([^.!?]+)`),
		},
	},
	{
		contentType: Map,
		triggers: []*regexp.Regexp{
			ci(`\b(map|location|where.*is|directions)\b`),
			ci(`\b(address|coordinates|latitude|longitude)\b`),
			ci(`\b(route|navigation|distance)\b`),
			ci(`\b(city|country|state|region)\b`),
			ci(`\b(near.*me|nearby|around)\b`),
			ci(`\b(travel.*to|go.*to)\b`),
		},
		entities: []entityPattern{
			ce(`\b(in\s+)([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
			ce(`\b(\d+\.?\d*°?\s*[NS],?\s*\d+\.?\d*°?\s*[EW])`),
		},
	},
}
