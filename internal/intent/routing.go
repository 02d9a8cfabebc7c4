package intent

import "strings"

// DisplayMode tells the client which pane renders a response.
type DisplayMode string

const (
	ChatArea    DisplayMode = "chat_area"
	ContentArea DisplayMode = "content_area"
)

// Routing is the rendering decision for one response.
type Routing struct {
	ContentType      ContentType    `json:"content_type"`
	DisplayMode      DisplayMode    `json:"display_mode"`
	HasVisualContent bool           `json:"has_visual_content"`
	ContentData      map[string]any `json:"content_data,omitempty"`
}

type keywordRoute struct {
	contentType ContentType
	keywords    []string
}

// Tool names are matched in order; the first table entry that matches a tool
// wins for that tool, later tools override earlier ones.
var toolRoutes = []keywordRoute{
	{Chart, []string{"financial", "stock", "chart", "mermaid"}},
	{Image, []string{"image", "creative_studio", "generate"}},
	{Video, []string{"video", "youtube", "media"}},
}

// Response keywords only apply while the routing is still plain text, and
// only the first matching entry is considered.
var responseRoutes = []keywordRoute{
	{Chart, []string{"chart", "graph", "visualization", "stock price"}},
	{Image, []string{"image generated", "picture created", "visual created"}},
	{Video, []string{"youtube.com", "youtu.be", "video link"}},
	{Map, []string{"map", "location", "coordinates", "address"}},
}

func (k keywordRoute) matches(s string) bool {
	for _, kw := range k.keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Route combines the message detection, the tools the agent used and the
// final response text into a rendering decision.
func Route(d Detection, toolsUsed []string, response string) Routing {
	r := Routing{ContentType: Text, DisplayMode: ChatArea}

	if d.HasVisualContent && d.Confidence >= PrimaryThreshold {
		r.ContentType = d.PrimaryContentType
		r.HasVisualContent = true
		if r.ContentType != Text {
			r.DisplayMode = ContentArea
		}
		r.ContentData = map[string]any{
			"entities":          d.Entities,
			"confidence":        d.Confidence,
			"detection_details": d,
		}
	}

	for _, name := range toolsUsed {
		name = strings.ToLower(name)
		for _, tr := range toolRoutes {
			if tr.matches(name) {
				r.setVisual(tr.contentType)
				break
			}
		}
	}

	lower := strings.ToLower(response)
	for _, rr := range responseRoutes {
		if !rr.matches(lower) {
			continue
		}
		if r.ContentType == Text {
			r.setVisual(rr.contentType)
		}
		break
	}
	return r
}

func (r *Routing) setVisual(ct ContentType) {
	r.ContentType = ct
	r.DisplayMode = ContentArea
	r.HasVisualContent = true
}
