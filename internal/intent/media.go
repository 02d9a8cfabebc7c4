package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// MediaType is the kind of a detected media item.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// MediaItem is a media reference found in response text.
type MediaItem struct {
	Type        MediaType `json:"type"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
}

// CodeBlock is a fenced code block found in response text.
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Title    string `json:"title"`
}

// RichContent is the result of scanning a response for canvas material.
type RichContent struct {
	Media          []MediaItem `json:"media"`
	CodeBlocks     []CodeBlock `json:"code_blocks"`
	RequiresCanvas bool        `json:"requires_canvas"`
}

var (
	imagePatterns = []*regexp.Regexp{
		ci(`https?://[^\s]+\.(jpg|jpeg|png|gif|webp|svg|bmp|tiff)(\?[^\s]*)?`),
		ci(`data:image/[^;]+;base64,[A-Za-z0-9+/=]+`),
		ci(`!\[([^\]]*)\]\(([^)]+)\)`),
	}
	youtubePattern = ci(`(?:https?://)?(?:www\.)?(?:youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]{11})`)
	vimeoPattern   = ci(`(?:https?://)?(?:www\.)?vimeo\.com/(\d+)`)
	videoFile      = ci(`https?://[^\s]+\.(mp4|webm|ogg|avi|mov)(\?[^\s]*)?`)
	audioFile      = ci(`https?://[^\s]+\.(mp3|wav|ogg|m4a|aac)(\?[^\s]*)?`)
	pdfFile        = ci(`https?://[^\s]+\.pdf(\?[^\s]*)?`)
	officeFile     = ci(`https?://[^\s]+\.(docx|doc|xlsx|xls|pptx|ppt)(\?[^\s]*)?`)
	codeFence      = regexp.MustCompile("(?s)```(\\w+)?\n(.*?)\n```")
)

// DetectMedia returns every media reference in text, images first, then
// videos, audio and documents, each in order of appearance.
func DetectMedia(text string) []MediaItem {
	var items []MediaItem

	for _, re := range imagePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			url, alt := m[0], "Image"
			if strings.HasPrefix(m[0], "![") {
				alt, url = m[1], m[2]
			}
			items = append(items, MediaItem{
				Type:        MediaImage,
				URL:         url,
				Title:       alt,
				Description: "Image: " + alt,
			})
		}
	}

	for _, m := range youtubePattern.FindAllStringSubmatch(text, -1) {
		items = append(items, MediaItem{
			Type:      MediaVideo,
			URL:       m[0],
			Title:     "YouTube Video",
			Thumbnail: YouTubeThumbnail(m[1]),
		})
	}
	for _, m := range vimeoPattern.FindAllString(text, -1) {
		items = append(items, MediaItem{Type: MediaVideo, URL: m, Title: "Vimeo Video"})
	}
	for _, m := range videoFile.FindAllString(text, -1) {
		items = append(items, MediaItem{Type: MediaVideo, URL: m, Title: "Video File"})
	}

	for _, m := range audioFile.FindAllString(text, -1) {
		items = append(items, MediaItem{Type: MediaAudio, URL: m, Title: "Audio File"})
	}

	for _, m := range pdfFile.FindAllString(text, -1) {
		items = append(items, MediaItem{Type: MediaDocument, URL: m, Title: "PDF Document"})
	}
	for _, m := range officeFile.FindAllStringSubmatch(text, -1) {
		items = append(items, MediaItem{
			Type:  MediaDocument,
			URL:   m[0],
			Title: strings.ToUpper(m[1]) + " Document",
		})
	}
	return items
}

// YouTubeThumbnail returns the high resolution thumbnail URL of a video id.
func YouTubeThumbnail(id string) string {
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", id)
}

// DetectCodeBlocks returns the fenced code blocks in text. Blocks without a
// language tag are reported as "text".
func DetectCodeBlocks(text string) []CodeBlock {
	var blocks []CodeBlock
	for _, m := range codeFence.FindAllStringSubmatch(text, -1) {
		lang, title := m[1], "Code"
		if lang == "" {
			lang = "text"
		}
		if lang != "text" {
			title = strings.ToUpper(lang[:1]) + strings.ToLower(lang[1:]) + " Code"
		}
		blocks = append(blocks, CodeBlock{Language: lang, Code: m[2], Title: title})
	}
	return blocks
}

// Analyze scans text for media and code. The canvas is required when either
// is present.
func Analyze(text string) RichContent {
	rc := RichContent{
		Media:      DetectMedia(text),
		CodeBlocks: DetectCodeBlocks(text),
	}
	rc.RequiresCanvas = len(rc.Media) > 0 || len(rc.CodeBlocks) > 0
	return rc
}
