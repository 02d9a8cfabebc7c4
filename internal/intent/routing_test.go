package intent

import "testing"

func TestRouteDetection(t *testing.T) {
	d := Classify("show me a chart of bitcoin price trends")
	r := Route(d, nil, "Bitcoin has been volatile.")

	if r.ContentType != Chart || r.DisplayMode != ContentArea || !r.HasVisualContent {
		t.Fatalf("unexpected routing %+v", r)
	}
	if r.ContentData["confidence"] != d.Confidence {
		t.Errorf("expected confidence in content data, got %v", r.ContentData)
	}
}

func TestRouteDefaultsToChat(t *testing.T) {
	r := Route(Classify("what is the capital of France"), []string{"search_wikipedia"}, "Paris.")
	if r.ContentType != Text || r.DisplayMode != ChatArea || r.HasVisualContent {
		t.Fatalf("unexpected routing %+v", r)
	}
	if r.ContentData != nil {
		t.Errorf("expected no content data, got %v", r.ContentData)
	}
}

func TestRouteToolOverride(t *testing.T) {
	d := Classify("show me a chart of bitcoin price trends")
	r := Route(d, []string{"use_creative_studio"}, "")
	if r.ContentType != Image {
		t.Fatalf("expected tool to override detection, got %q", r.ContentType)
	}
}

func TestRouteResponseKeywords(t *testing.T) {
	tests := []struct {
		response string
		want     ContentType
	}{
		{"Here is the link: https://youtu.be/abc", Video},
		{"The address is 1 Main St.", Map},
		{"I built a graph and a map", Chart},
		{"Image generated successfully", Image},
	}
	for _, tt := range tests {
		r := Route(Detection{PrimaryContentType: Text}, nil, tt.response)
		if r.ContentType != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.response, tt.want, r.ContentType)
		}
	}
}

func TestRouteResponseDoesNotOverride(t *testing.T) {
	r := Route(Detection{PrimaryContentType: Text}, []string{"analyze_youtube"}, "the chart shows a map")
	if r.ContentType != Video {
		t.Fatalf("expected tool routing to stick, got %q", r.ContentType)
	}
}
