package ingest

import (
	"fmt"
	"strings"

	"github.com/lectern/lectern/internal/storage"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
)

// Chunker splits course text into sentence-aligned pieces of roughly
// size characters, repeating roughly overlap characters between
// consecutive pieces so no thought is cut mid-context.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Non-positive size or overlap fall back
// to 800 and 100 characters.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap <= 0 {
		overlap = defaultChunkOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

// SplitText splits text into chunks on sentence boundaries. Whitespace
// runs collapse to single spaces first. A sentence longer than the
// chunk size becomes a chunk of its own rather than being cut.
func (c *Chunker) SplitText(text string) []string {
	sentences := splitSentences(normalizeWhitespace(text))
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	i := 0
	for i < len(sentences) {
		j := i
		length := 0
		for j < len(sentences) {
			add := len(sentences[j])
			if j > i {
				add++ // joining space
			}
			if length+add > c.size && j > i {
				break
			}
			length += add
			j++
		}
		chunks = append(chunks, strings.Join(sentences[i:j], " "))
		if j >= len(sentences) {
			break
		}

		// Walk back from the cut point until roughly overlap characters
		// of the finished chunk will repeat in the next one.
		next := j
		carried := 0
		for k := j - 1; k > i; k-- {
			carried += len(sentences[k]) + 1
			if carried > c.overlap {
				break
			}
			next = k
		}
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return chunks
}

// BuildChunks chunks a parsed document into content-collection rows.
// Chunk indexes run across the whole document. The first chunk of each
// lesson and every course-level chunk carry a context prefix so the
// embedding anchors to the course.
func (c *Chunker) BuildChunks(doc Document) []storage.CourseChunk {
	title := doc.Course.Title
	var out []storage.CourseChunk
	index := 0

	for _, piece := range c.SplitText(doc.Preamble) {
		out = append(out, storage.CourseChunk{
			Content:     fmt.Sprintf("Course %s content: %s", title, piece),
			CourseTitle: title,
			ChunkIndex:  index,
		})
		index++
	}

	for _, lesson := range doc.Lessons {
		number := lesson.Lesson.Number
		for i, piece := range c.SplitText(lesson.Text) {
			content := piece
			if i == 0 {
				content = fmt.Sprintf("Course %s Lesson %d content: %s", title, number, piece)
			}
			n := number
			out = append(out, storage.CourseChunk{
				Content:      content,
				CourseTitle:  title,
				LessonNumber: &n,
				ChunkIndex:   index,
			})
			index++
		}
	}
	return out
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences cuts text after runs of sentence punctuation followed
// by a space. Abbreviations are not special-cased; course prose rarely
// has them and a short extra sentence is harmless.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	var sentences []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		if !isSentenceEnd(text[i]) {
			continue
		}
		// Consume the full punctuation run ("?!", "...").
		end := i + 1
		for end < len(text) && isSentenceEnd(text[end]) {
			end++
		}
		if end < len(text) && text[end] == ' ' {
			sentences = append(sentences, text[start:end])
			start = end + 1
			i = end
		} else {
			i = end - 1
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}
