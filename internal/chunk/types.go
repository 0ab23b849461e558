package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// Size defaults, in bytes of source text.
const (
	DefaultSize    = 512
	DefaultOverlap = 64

	// binarySniffLen is how much of a file is checked for NUL bytes.
	binarySniffLen = 8000
)

// ErrBinaryContent is returned for content that is not UTF-8 text.
var ErrBinaryContent = verrors.New(verrors.ErrCodeBinaryFile, "binary content", nil)

// Fragment is a contiguous slice of a source file, the unit of embedding
// and retrieval.
type Fragment struct {
	ID        uint64 // Hash(path, StartByte); stable across re-indexing
	Path      string // Relative, slash separated
	StartByte int
	EndByte   int // Exclusive
	StartLine int // 1-indexed
	EndLine   int // Inclusive
	Text      string
	Language  string
	Ext       string // Lower-case, no dot
	Hash      string // SHA-256 of Text
}

// IDString renders a fragment ID the way it is shown to users.
func IDString(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

// FragmentID derives the identifier for the fragment of path starting at offset.
func FragmentID(path string, offset int) uint64 {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(offset)))
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// Fingerprint returns the SHA-256 hex digest of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
