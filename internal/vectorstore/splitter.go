package vectorstore

import (
	"strings"
	"unicode/utf8"
)

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter breaks text into overlapping chunks no longer than Size runes,
// preferring paragraph, line, sentence and word boundaries in that order.
type Splitter struct {
	Size    int
	Overlap int
}

func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Splitter{Size: size, Overlap: overlap}
}

// Split returns the chunks of text. Blank input yields no chunks.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.merge(s.pieces(text, defaultSeparators))
}

// pieces recursively cuts text into parts that each fit in Size.
func (s Splitter) pieces(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= s.Size {
		return []string{text}
	}
	sep, rest := seps[0], seps[1:]
	var parts []string
	if sep == "" {
		parts = splitRunes(text, s.Size)
	} else {
		parts = strings.SplitAfter(text, sep)
	}

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) > s.Size && len(rest) > 0 {
			out = append(out, s.pieces(p, rest)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// merge packs pieces into chunks, carrying roughly Overlap runes of the
// previous chunk into the next one.
func (s Splitter) merge(pieces []string) []string {
	var chunks []string
	var cur []string
	curLen := 0

	flush := func() {
		if chunk := strings.TrimSpace(strings.Join(cur, "")); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if curLen+n > s.Size && len(cur) > 0 {
			flush()
			// keep a tail of pieces that fits in the overlap window
			for curLen > s.Overlap || (curLen+n > s.Size && len(cur) > 0) {
				curLen -= utf8.RuneCountInString(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		curLen += n
	}
	flush()
	return chunks
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}
