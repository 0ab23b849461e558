// Package chunk splits source files into overlapping text fragments with
// stable identity.
package chunk

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// Options configures fragment sizing.
type Options struct {
	// Size is the target fragment length in bytes.
	Size int
	// Overlap is the maximum number of trailing bytes repeated at the start
	// of the next fragment. Whole lines only.
	Overlap int
}

// Chunker splits file content into fragments. It is stateless and safe for
// concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker, applying defaults to non-positive sizes.
func New(opts Options) *Chunker {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
		if opts.Overlap == 0 {
			opts.Overlap = DefaultOverlap
		}
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Size {
		opts.Overlap = DefaultOverlap
		if opts.Overlap >= opts.Size {
			opts.Overlap = 0
		}
	}
	return &Chunker{size: opts.Size, overlap: opts.Overlap}
}

// line is one source line located in the file.
type line struct {
	start int // Byte offset of the first character
	end   int // Byte offset just past the last character, newline excluded
	num   int // 1-indexed
}

func (l line) cost() int { return l.end - l.start + 1 }

// Chunk splits content into fragments.
//
// Lines accumulate until the next one would push the fragment past the size
// budget. The fragment is emitted, and its trailing lines that fit within the
// overlap budget start the next one. A line longer than the budget becomes a
// fragment on its own. Identical input always yields identical output.
func (c *Chunker) Chunk(path string, content []byte) ([]Fragment, error) {
	if IsBinary(content) {
		return nil, verrors.New(verrors.ErrCodeBinaryFile, fmt.Sprintf("%s is not a text file", path), ErrBinaryContent)
	}

	lines := splitLines(content)
	if len(lines) == 0 {
		return nil, nil
	}

	lang := DetectLanguage(path)
	ext := Extension(path)

	var fragments []Fragment
	var current []line
	size := 0

	emit := func(ls []line) {
		start, end := ls[0].start, ls[len(ls)-1].end
		text := string(content[start:end])
		if strings.TrimSpace(text) == "" {
			return
		}
		fragments = append(fragments, Fragment{
			ID:        FragmentID(path, start),
			Path:      path,
			StartByte: start,
			EndByte:   end,
			StartLine: ls[0].num,
			EndLine:   ls[len(ls)-1].num,
			Text:      text,
			Language:  lang,
			Ext:       ext,
			Hash:      Fingerprint(content[start:end]),
		})
	}

	for _, ln := range lines {
		if len(current) > 0 && size+ln.cost() > c.size {
			emit(current)
			current = c.overlapTail(current)
			size = 0
			for _, kept := range current {
				size += kept.cost()
			}
		}
		current = append(current, ln)
		size += ln.cost()
	}
	if len(current) > 0 {
		emit(current)
	}

	return fragments, nil
}

// overlapTail returns the trailing lines of an emitted fragment whose total
// cost fits in the overlap budget. The slice is copied so the caller may
// append to it.
func (c *Chunker) overlapTail(ls []line) []line {
	budget := 0
	keep := 0
	for i := len(ls) - 1; i > 0; i-- {
		budget += ls[i].cost()
		if budget > c.overlap {
			break
		}
		keep++
	}
	tail := make([]line, keep, keep+8)
	copy(tail, ls[len(ls)-keep:])
	return tail
}

// splitLines locates every line in content. A trailing newline does not
// start an extra empty line. Carriage returns stay part of the line text.
func splitLines(content []byte) []line {
	if len(content) == 0 {
		return nil
	}
	var lines []line
	start := 0
	num := 1
	for start <= len(content) {
		idx := bytes.IndexByte(content[start:], '\n')
		if idx < 0 {
			if start < len(content) {
				lines = append(lines, line{start: start, end: len(content), num: num})
			}
			break
		}
		lines = append(lines, line{start: start, end: start + idx, num: num})
		start += idx + 1
		num++
	}
	return lines
}

// IsBinary reports whether content looks like a non-text file: a NUL byte
// near the start, or invalid UTF-8 anywhere.
func IsBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return true
	}
	return !utf8.Valid(content)
}
