// Package intent decides where a message or response should be rendered:
// inline chat text or a canvas view for charts, images, videos and maps.
package intent

import (
	"sort"
	"strings"
)

// TypeDetection is the score of one content type.
type TypeDetection struct {
	ContentType    ContentType `json:"content_type"`
	Confidence     int         `json:"confidence"`
	Entities       []string    `json:"entities"`
	PatternMatches int         `json:"pattern_matches"`
}

// Detection is the classifier result for one message.
type Detection struct {
	HasVisualContent   bool            `json:"has_visual_content"`
	PrimaryContentType ContentType     `json:"primary_content_type"`
	Confidence         int             `json:"confidence"`
	Entities           []string        `json:"entities"`
	AllDetections      []TypeDetection `json:"all_detections"`
	MessageLength      int             `json:"message_length"`
}

// Classifier scores messages against the built-in pattern tables. The zero
// value is ready to use and safe for concurrent use.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier { return &Classifier{} }

// Classify is the method form of the package-level Classify.
func (*Classifier) Classify(message string) Detection { return Classify(message) }

// Classify scores message against every content type. It is pure and
// deterministic; input that matches nothing yields plain text.
func Classify(message string) Detection {
	lower := strings.ToLower(message)
	var all []TypeDetection

	for _, r := range rules {
		d := TypeDetection{ContentType: r.contentType, Entities: []string{}}
		for _, re := range r.triggers {
			if re.MatchString(lower) {
				d.PatternMatches++
				d.Confidence += TriggerScore
			}
		}
		if d.PatternMatches == 0 {
			continue
		}
		for _, ep := range r.entities {
			matches := ep.re.FindAllStringSubmatch(message, -1)
			if len(matches) == 0 {
				continue
			}
			d.Confidence += EntityScore
			for _, m := range matches {
				d.Entities = append(d.Entities, strings.TrimSpace(m[len(m)-1]))
			}
		}
		if len(d.Entities) > MaxEntities {
			d.Entities = d.Entities[:MaxEntities]
		}
		d.Confidence = min(d.Confidence, MaxConfidence)
		all = append(all, d)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Confidence > all[j].Confidence
	})

	out := Detection{
		PrimaryContentType: Text,
		Entities:           []string{},
		AllDetections:      all,
		MessageLength:      len(message),
	}
	if out.AllDetections == nil {
		out.AllDetections = []TypeDetection{}
	}
	if len(all) > 0 && all[0].Confidence >= PrimaryThreshold {
		out.HasVisualContent = true
		out.PrimaryContentType = all[0].ContentType
		out.Confidence = all[0].Confidence
		out.Entities = all[0].Entities
	}
	return out
}
