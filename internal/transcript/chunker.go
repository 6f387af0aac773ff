package transcript

import (
	"strings"
	"unicode"
)

// Chunk is one analysis-sized slice of a transcript.
type Chunk struct {
	Content  string
	Position int
	// First and last timestamps covered, if known
	From string
	To   string
}

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// Threshold: only chunk if content exceeds this length
	Threshold int
	// MaxSize: maximum chunk size (larger turns split at sentences)
	MaxSize int
}

// DefaultChunkConfig returns defaults sized for long-context models.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold: 24000,
		MaxSize:   16000,
	}
}

// Chunks splits the transcript on speaker-turn boundaries, falling back to
// paragraphs when there are no turns. Short transcripts are one chunk;
// empty ones yield none.
func (t *Transcript) Chunks(cfg ChunkConfig) []Chunk {
	if strings.TrimSpace(t.Content) == "" {
		return nil
	}
	if len(t.Content) <= cfg.Threshold {
		c := Chunk{Content: t.Content}
		if n := len(t.Segments); n > 0 {
			c.From, c.To = t.Segments[0].Timestamp, t.Segments[n-1].Timestamp
		}
		return []Chunk{c}
	}
	if len(t.Segments) > 0 {
		return chunkBySegments(t.Segments, cfg)
	}
	return chunkByParagraphs(t.Content, cfg)
}

func chunkBySegments(segments []Segment, cfg ChunkConfig) []Chunk {
	var chunks []Chunk
	var b strings.Builder
	var from, to string

	flush := func() {
		if b.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Content:  strings.TrimSpace(b.String()),
			Position: len(chunks),
			From:     from,
			To:       to,
		})
		b.Reset()
		from, to = "", ""
	}

	for _, seg := range segments {
		line := seg.String()

		if b.Len()+len(line)+1 > cfg.MaxSize {
			flush()
		}
		// One oversized turn: split it at sentences, keep the speaker prefix
		if len(line) > cfg.MaxSize {
			prefix := strings.TrimSuffix(line, seg.Text)
			for _, part := range chunkBySentences(seg.Text, cfg.MaxSize-len(prefix)) {
				chunks = append(chunks, Chunk{
					Content:  prefix + part,
					Position: len(chunks),
					From:     seg.Timestamp,
					To:       seg.Timestamp,
				})
			}
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
		if from == "" {
			from = seg.Timestamp
		}
		if seg.Timestamp != "" {
			to = seg.Timestamp
		}
	}
	flush()
	return chunks
}

func chunkByParagraphs(content string, cfg ChunkConfig) []Chunk {
	var chunks []Chunk
	var b strings.Builder

	flush := func() {
		if b.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Content: strings.TrimSpace(b.String()), Position: len(chunks)})
		b.Reset()
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if b.Len()+len(para)+2 > cfg.MaxSize {
			flush()
		}
		if len(para) > cfg.MaxSize {
			for _, part := range chunkBySentences(para, cfg.MaxSize) {
				chunks = append(chunks, Chunk{Content: part, Position: len(chunks)})
			}
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para)
	}
	flush()
	return chunks
}

// chunkBySentences packs sentences into pieces of at most max bytes. A single
// sentence longer than max is hard-split.
func chunkBySentences(text string, max int) []string {
	if max <= 0 {
		max = 1
	}
	var out []string
	var b strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if b.Len()+len(sentence)+1 > max && b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
		for len(sentence) > max {
			cut := runeBoundary(sentence, max)
			out = append(out, sentence[:cut])
			sentence = strings.TrimSpace(sentence[cut:])
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(sentence)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	if n == 0 {
		return len(s)
	}
	return n
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Likely abbreviation like "Dr."
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
