// Package transcript parses meeting transcripts and splits them into chunks
// sized for content analysis.
package transcript

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transcript is a parsed meeting transcript.
type Transcript struct {
	// Front matter metadata (from YAML)
	Meta Meta

	// Body after front matter
	Content string

	// Speaker turns in order. Empty when the text has no speaker lines.
	Segments []Segment
}

// Meta is the optional YAML front matter of a transcript.
type Meta struct {
	Title       string   `yaml:"title"`
	SessionType string   `yaml:"session_type"`
	Date        string   `yaml:"date"`
	Attendees   []string `yaml:"attendees"`
}

// Segment is one speaker turn.
type Segment struct {
	Speaker   string
	Timestamp string // "00:01:23" when present
	Text      string
	Line      int
}

var (
	// [00:01:23] Alice: text   or   00:01:23 Alice: text
	timedLine = regexp.MustCompile(`^\[?(\d{1,2}:\d{2}(?::\d{2})?)\]?\s+([^:\n]{1,60}):\s*(.*)$`)
	// Alice: text
	speakerLine = regexp.MustCompile(`^([A-Z][\w .'-]{0,59}):\s+(.+)$`)
)

// Parse splits optional front matter from the body and extracts speaker
// segments. Invalid front matter is an error; text without any speaker
// lines yields no segments.
func Parse(text string) (*Transcript, error) {
	t := &Transcript{}
	body := strings.ReplaceAll(text, "\r\n", "\n")

	if strings.HasPrefix(body, "---\n") {
		if end := strings.Index(body[4:], "\n---"); end >= 0 {
			fm := body[4 : 4+end]
			if err := yaml.Unmarshal([]byte(fm), &t.Meta); err != nil {
				return nil, fmt.Errorf("parse front matter: %w", err)
			}
			body = body[4+end+4:]
			body = strings.TrimPrefix(body, "\n")
		}
	}

	t.Content = strings.TrimSpace(body)
	t.Segments = parseSegments(t.Content)
	return t, nil
}

func parseSegments(body string) []Segment {
	var segments []Segment
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := timedLine.FindStringSubmatch(line); m != nil {
			segments = append(segments, Segment{
				Timestamp: m[1],
				Speaker:   strings.TrimSpace(m[2]),
				Text:      strings.TrimSpace(m[3]),
				Line:      lineNum,
			})
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			segments = append(segments, Segment{
				Speaker: strings.TrimSpace(m[1]),
				Text:    strings.TrimSpace(m[2]),
				Line:    lineNum,
			})
			continue
		}

		// Continuation of the previous turn
		if len(segments) > 0 {
			last := &segments[len(segments)-1]
			if last.Text != "" {
				last.Text += " "
			}
			last.Text += line
		}
	}
	return segments
}

// Speakers returns distinct speakers in order of first appearance.
func (t *Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range t.Segments {
		if !seen[s.Speaker] {
			seen[s.Speaker] = true
			out = append(out, s.Speaker)
		}
	}
	return out
}

// String renders a segment the way it is sent for analysis.
func (s Segment) String() string {
	if s.Timestamp != "" {
		return fmt.Sprintf("[%s] %s: %s", s.Timestamp, s.Speaker, s.Text)
	}
	return fmt.Sprintf("%s: %s", s.Speaker, s.Text)
}
