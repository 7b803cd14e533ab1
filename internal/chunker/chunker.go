package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/pkg/models"
)

const (
	// DefaultMaxSize is the maximum chunk content length in characters.
	DefaultMaxSize = 1000
	// DefaultOverlap is carried between adjacent sub-chunks when a section
	// has to be re-split.
	DefaultOverlap = 200
)

var headingRe = regexp.MustCompile(`^(#{1,6})[ \t]*(.*)$`)

// separators are tried in order when a section exceeds the maximum size:
// paragraph breaks, then line breaks, then word breaks, then hard cuts.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits document bodies into size-bounded chunks along structural
// boundaries and assigns each one an identifier.
//
// With deterministic ids enabled, the id is a pure function of file path
// and ordinal position, which is what makes smart update able to tell an
// unchanged chunk from a new one. A Chunker tracks the base ids it has
// handed out across one ingestion run so two files normalizing to the same
// base get disambiguated instead of silently colliding.
type Chunker struct {
	MaxSize       int
	Overlap       int
	Deterministic bool

	baseOwners map[string]string // normalized base id -> file path
}

func New(maxSize, overlap int, deterministic bool) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = DefaultOverlap
	}
	return &Chunker{
		MaxSize:       maxSize,
		Overlap:       overlap,
		Deterministic: deterministic,
		baseOwners:    make(map[string]string),
	}
}

// Chunk splits one document's body. An empty body yields zero chunks.
func (c *Chunker) Chunk(doc models.Document) []models.Chunk {
	if strings.TrimSpace(doc.Body) == "" {
		return nil
	}

	base := c.baseID(doc.Path)
	sections := splitHeadings(doc.Body)

	var out []models.Chunk
	for i, sec := range sections {
		pieces := c.split(sec, separators)
		for j, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			level, heading := headingOf(piece)
			ch := models.Chunk{
				ID:        c.chunkID(base, i, j, len(pieces)),
				Content:   piece,
				Level:     level,
				Heading:   heading,
				Framework: doc.Framework,
				SourceURL: doc.SourceURL,
				Path:      doc.Path,
				Title:     doc.Title,
				Extra:     doc.Extra,
			}
			out = append(out, ch)
		}
	}
	return out
}

// splitHeadings cuts the body at heading lines, producing one section per
// heading plus a leading section for any pre-heading content.
func splitHeadings(body string) []string {
	lines := strings.Split(body, "\n")
	var sections []string
	var cur []string
	for _, line := range lines {
		if headingRe.MatchString(line) && len(cur) > 0 {
			sections = append(sections, strings.Join(cur, "\n"))
			cur = cur[:0]
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		sections = append(sections, strings.Join(cur, "\n"))
	}
	return sections
}

// split recursively re-splits text that exceeds the maximum size, trying
// each separator in order and carrying the configured overlap across
// adjacent pieces.
func (c *Chunker) split(text string, seps []string) []string {
	if len(text) <= c.MaxSize {
		return []string{text}
	}
	if len(seps) == 0 || seps[0] == "" {
		return c.hardCut(text)
	}

	sep := seps[0]
	var pieces []string
	for _, part := range strings.Split(text, sep) {
		if part == "" {
			continue
		}
		if len(part) > c.MaxSize {
			pieces = append(pieces, c.split(part, seps[1:])...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return c.merge(pieces, sep)
}

// merge greedily packs split pieces back into segments at most MaxSize
// long, seeding each new segment with the tail of the previous one so
// context is not lost at a cut boundary.
func (c *Chunker) merge(pieces []string, sep string) []string {
	var out []string
	cur := ""
	for _, p := range pieces {
		if cur == "" {
			cur = p
			continue
		}
		if len(cur)+len(sep)+len(p) <= c.MaxSize {
			cur += sep + p
			continue
		}
		out = append(out, cur)
		tail := overlapTail(cur, c.Overlap)
		if tail != "" && len(tail)+len(sep)+len(p) <= c.MaxSize {
			cur = tail + sep + p
		} else {
			cur = p
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// hardCut is the last resort for text with no usable separator: fixed
// windows of MaxSize stepping by MaxSize-Overlap.
func (c *Chunker) hardCut(text string) []string {
	step := c.MaxSize - c.Overlap
	if step <= 0 {
		step = c.MaxSize
	}
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + c.MaxSize
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		out = append(out, text[start:end])
	}
	return out
}

func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	return s[len(s)-n:]
}

// headingOf returns the structural level and heading text of a segment:
// the first heading marker at the top of the segment, or level 0 with no
// heading when the segment starts with plain content.
func headingOf(segment string) (int, string) {
	line := segment
	if idx := strings.IndexByte(segment, '\n'); idx >= 0 {
		line = segment[:idx]
	}
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return 0, ""
	}
	return len(m[1]), strings.TrimSpace(m[2])
}

func (c *Chunker) chunkID(base string, section, piece, pieceCount int) string {
	if !c.Deterministic {
		return uuid.New().String()
	}
	if pieceCount > 1 {
		return fmt.Sprintf("%s-%d-%d", base, section, piece)
	}
	return fmt.Sprintf("%s-%d", base, section)
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// baseID normalizes a file path into a chunk id root. Two distinct paths
// can normalize to the same base; the second file gets a short content
// suffix derived from its path so ids stay unique and deterministic.
func (c *Chunker) baseID(path string) string {
	p := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	if len(p) >= 2 && p[1] == ':' {
		p = p[2:]
	}
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, ".md")
	base := strings.Trim(nonAlnumRe.ReplaceAllString(p, "-"), "-")
	if base == "" {
		base = "doc"
	}

	owner, taken := c.baseOwners[base]
	if taken && owner != path {
		h := sha1.Sum([]byte(path))
		suffixed := base + "-" + hex.EncodeToString(h[:4])
		log.Warn().Str("path", path).Str("collides_with", owner).Str("base", base).
			Msg("chunk id collision, appending path hash")
		c.baseOwners[suffixed] = path
		return suffixed
	}
	c.baseOwners[base] = path
	return base
}
