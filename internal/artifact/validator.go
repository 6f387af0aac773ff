// Package artifact validates uploaded files before they are stored.
package artifact

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/intake/internal/apperr"
)

// DefaultMaxSize is the upload cap used when none is configured.
const DefaultMaxSize int64 = 500 * 1024 * 1024

// Category groups extensions that share a signature check.
type Category string

const (
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
)

type fileType struct {
	mime     string
	category Category
	sniff    func([]byte) bool
}

var allowed = map[string]fileType{
	"mp3":  {"audio/mpeg", CategoryAudio, isMP3},
	"m4a":  {"audio/mp4", CategoryAudio, isISOBMFF},
	"wav":  {"audio/wav", CategoryAudio, isWAV},
	"ogg":  {"audio/ogg", CategoryAudio, isOgg},
	"webm": {"video/webm", CategoryVideo, isEBML},
	"mp4":  {"video/mp4", CategoryVideo, isISOBMFF},
	"mov":  {"video/quicktime", CategoryVideo, isISOBMFF},
	"pdf":  {"application/pdf", CategoryDocument, isPDF},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", CategoryDocument, isZIP},
	"pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation", CategoryDocument, isZIP},
	"txt":  {"text/plain", CategoryDocument, isText},
}

// mimeAliases are client-declared types accepted in place of the derived one.
var mimeAliases = map[string][]string{
	"mp3":  {"audio/mp3", "audio/mpeg3"},
	"m4a":  {"audio/x-m4a", "audio/m4a"},
	"wav":  {"audio/x-wav", "audio/wave", "audio/vnd.wave"},
	"webm": {"audio/webm"},
	"ogg":  {"application/ogg", "video/ogg"},
	"txt":  {"text/markdown"},
}

// Result is an accepted artifact.
type Result struct {
	Filename string
	MIMEType string
	Category Category
	Size     int64
}

// Validator applies the upload rules. The zero value uses DefaultMaxSize.
type Validator struct {
	MaxSize int64
}

// New creates a Validator with the given cap. Non-positive means default.
func New(maxSize int64) *Validator {
	return &Validator{MaxSize: maxSize}
}

func (v *Validator) maxSize() int64 {
	if v == nil || v.MaxSize <= 0 {
		return DefaultMaxSize
	}
	return v.MaxSize
}

// MaxBytes returns the effective size cap.
func (v *Validator) MaxBytes() int64 {
	return v.maxSize()
}

// CheckSize rejects a declared size over the cap. Transports call it before
// reading a body so oversized uploads never reach storage.
func (v *Validator) CheckSize(size int64) error {
	if size > v.maxSize() {
		return apperr.Validation("file exceeds maximum size of %d bytes", v.maxSize())
	}
	return nil
}

// Validate checks filename, declared MIME type and content. It returns the
// sanitized filename and the server-derived MIME type.
func (v *Validator) Validate(filename, declaredMIME string, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	if err := v.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}

	name := SanitizeFilename(filename)
	ext := extension(name)
	ft, ok := allowed[ext]
	if !ok {
		return nil, apperr.Validation("file type %q is not allowed", ext)
	}

	declared := normalizeMIME(declaredMIME)
	if declared != "" && declared != "application/octet-stream" && !mimeMatches(ext, declared) {
		return nil, apperr.Validation("declared content type %q does not match .%s", declared, ext)
	}

	if !ft.sniff(data) {
		return nil, apperr.Validation("file content does not match .%s signature", ext)
	}

	return &Result{
		Filename: name,
		MIMEType: ft.mime,
		Category: ft.category,
		Size:     int64(len(data)),
	}, nil
}

// MIMEFor returns the derived MIME type for a filename, or "" if the
// extension is not allowed.
func MIMEFor(filename string) string {
	return allowed[extension(SanitizeFilename(filename))].mime
}

// SanitizeFilename strips path components and control characters, keeps only
// [A-Za-z0-9._-] and never returns a name starting with a dot.
func SanitizeFilename(filename string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
		case r < utf8.RuneSelf && (isAlnum(byte(r)) || r == '.' || r == '_' || r == '-'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "upload"
	}
	if out[0] == '.' {
		out = "_" + out
	}
	return out
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func extension(name string) string {
	ext := path.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func normalizeMIME(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}

func mimeMatches(ext, declared string) bool {
	if allowed[ext].mime == declared {
		return true
	}
	for _, alias := range mimeAliases[ext] {
		if alias == declared {
			return true
		}
	}
	return false
}

func isPDF(b []byte) bool {
	return bytes.HasPrefix(b, []byte("%PDF"))
}

func isMP3(b []byte) bool {
	if bytes.HasPrefix(b, []byte("ID3")) {
		return true
	}
	// MPEG frame sync: 11 set bits.
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

func isISOBMFF(b []byte) bool {
	return len(b) >= 8 && string(b[4:8]) == "ftyp"
}

func isZIP(b []byte) bool {
	return bytes.HasPrefix(b, []byte("PK\x03\x04"))
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

func isOgg(b []byte) bool {
	return bytes.HasPrefix(b, []byte("OggS"))
}

func isEBML(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0x1A, 0x45, 0xDF, 0xA3})
}

func isText(b []byte) bool {
	sample := b
	if len(sample) > 8192 {
		sample = sample[:8192]
		// Don't fail on a rune split at the cut.
		for i := 0; i < utf8.UTFMax && !utf8.Valid(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	return utf8.Valid(sample) && bytes.IndexByte(sample, 0) < 0
}

// String renders a Result for logs.
func (r *Result) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", r.Filename, r.MIMEType, r.Size)
}
