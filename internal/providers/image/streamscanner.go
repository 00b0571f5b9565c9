package image

import (
	"regexp"
	"strconv"
	"strings"
)

// MarkerKind enumerates the semantic markers found in a streamed reply.
type MarkerKind int

const (
	MarkerQueued MarkerKind = iota + 1
	MarkerGenerating
	MarkerProgress
	MarkerImage
	MarkerDone
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerQueued:
		return "queued"
	case MarkerGenerating:
		return "generating"
	case MarkerProgress:
		return "progress"
	case MarkerImage:
		return "image"
	case MarkerDone:
		return "done"
	}
	return "unknown"
}

// Marker is one recognised event within a line of streamed text.
type Marker struct {
	Kind    MarkerKind
	Percent int
	URL     string
	Line    string
}

const (
	queuedToken     = "排队中"
	generatingToken = "生成中"
	doneToken       = "生成完成"
)

var (
	progressPattern     = regexp.MustCompile(`进度\s*(\d+)`)
	dotProgressPattern  = regexp.MustCompile(`^(\d+)\.\.`)
	downloadLinkPattern = regexp.MustCompile(`\[点击下载\]\((https?://[^\s)]+)\)`)
)

// StreamScanner turns arbitrarily chunked text into markers. Incomplete
// trailing lines are buffered until their newline arrives or Flush is called.
type StreamScanner struct {
	partial strings.Builder
}

// Feed consumes a chunk and returns the markers of every line it completed.
func (s *StreamScanner) Feed(chunk string) []Marker {
	if chunk == "" {
		return nil
	}
	s.partial.WriteString(chunk)
	buffered := s.partial.String()
	idx := strings.LastIndexByte(buffered, '\n')
	if idx < 0 {
		return nil
	}
	complete, rest := buffered[:idx], buffered[idx+1:]
	s.partial.Reset()
	s.partial.WriteString(rest)

	var out []Marker
	for _, line := range strings.Split(complete, "\n") {
		out = append(out, parseMarkerLine(line)...)
	}
	return out
}

// Flush parses whatever is left in the buffer.
func (s *StreamScanner) Flush() []Marker {
	rest := s.partial.String()
	s.partial.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return parseMarkerLine(rest)
}

// parseMarkerLine classifies a line by the first category that matches, in
// stream order: queued, generating, progress, download links, done. Every
// link on a link line is reported.
func parseMarkerLine(raw string) []Marker {
	line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
	switch {
	case line == "":
		return nil
	case strings.Contains(line, queuedToken):
		return []Marker{{Kind: MarkerQueued, Percent: 5, Line: line}}
	case strings.Contains(line, generatingToken):
		return []Marker{{Kind: MarkerGenerating, Percent: 10, Line: line}}
	}
	if n, ok := lineProgress(line); ok {
		return []Marker{{Kind: MarkerProgress, Percent: min(n, 99), Line: line}}
	}
	if links := downloadLinkPattern.FindAllStringSubmatch(line, -1); len(links) > 0 {
		out := make([]Marker, 0, len(links))
		for _, m := range links {
			out = append(out, Marker{Kind: MarkerImage, Percent: 95, URL: m[1], Line: line})
		}
		return out
	}
	if strings.Contains(line, doneToken) {
		return []Marker{{Kind: MarkerDone, Percent: 100, Line: line}}
	}
	return nil
}

func lineProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		m = dotProgressPattern.FindStringSubmatch(line)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// extractDownloadLinks scans a complete reply for download links.
func extractDownloadLinks(text string) []string {
	var urls []string
	for _, m := range downloadLinkPattern.FindAllStringSubmatch(text, -1) {
		urls = append(urls, m[1])
	}
	return urls
}
