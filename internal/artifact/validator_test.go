package artifact

import (
	"bytes"
	"errors"
	"testing"

	"github.com/raphaelgruber/intake/internal/apperr"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\bob\notes.txt`, "notes.txt"},
		{".bashrc", "_.bashrc"},
		{"..", "upload"},
		{"", "upload"},
		{"kick off\x00\x07 call.mp3", "kick_off_call.mp3"},
		{"résumé.docx", "r_sum_.docx"},
		{"/abs/path/rec.m4a", "rec.m4a"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func ftyp(brand string) []byte {
	return append([]byte{0, 0, 0, 0x18}, []byte("ftyp"+brand+"\x00\x00\x00\x00")...)
}

func TestValidateAccepts(t *testing.T) {
	v := New(0)
	tests := []struct {
		name     string
		filename string
		declared string
		data     []byte
		wantMIME string
	}{
		{"pdf", "report.pdf", "application/pdf", []byte("%PDF-1.7\n..."), "application/pdf"},
		{"mp3 id3", "call.mp3", "audio/mpeg", []byte("ID3\x04\x00rest"), "audio/mpeg"},
		{"mp3 frame sync", "call.mp3", "", []byte{0xFF, 0xFB, 0x90, 0x44}, "audio/mpeg"},
		{"mp4", "demo.mp4", "video/mp4", ftyp("isom"), "video/mp4"},
		{"m4a alias", "memo.m4a", "audio/x-m4a", ftyp("M4A "), "audio/mp4"},
		{"mov", "screen.MOV", "video/quicktime", ftyp("qt  "), "video/quicktime"},
		{"docx", "brief.docx", "", []byte("PK\x03\x04\x14\x00"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"pptx octet-stream", "deck.pptx", "application/octet-stream", []byte("PK\x03\x04"), "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
		{"wav", "a.wav", "audio/wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "audio/wav"},
		{"ogg", "a.ogg", "audio/ogg", []byte("OggS\x00\x02"), "audio/ogg"},
		{"webm", "a.webm", "audio/webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F}, "video/webm"},
		{"txt", "notes.txt", "text/plain; charset=utf-8", []byte("Alice: hello\n"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(tt.filename, tt.declared, tt.data)
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if res.MIMEType != tt.wantMIME {
				t.Errorf("MIMEType = %q, want %q", res.MIMEType, tt.wantMIME)
			}
			if res.Size != int64(len(tt.data)) {
				t.Errorf("Size = %d, want %d", res.Size, len(tt.data))
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	v := New(0)
	tests := []struct {
		name     string
		filename string
		declared string
		data     []byte
	}{
		{"pdf signature mismatch", "x.pdf", "application/pdf", []byte("not a pdf at all")},
		{"mp3 without header", "x.mp3", "audio/mpeg", []byte("hello world")},
		{"mp4 without ftyp", "x.mp4", "video/mp4", []byte("\x00\x00\x00\x18moov")},
		{"docx not zip", "x.docx", "", []byte("%PDF-1.4")},
		{"disallowed extension", "run.exe", "application/octet-stream", []byte("MZ\x90\x00")},
		{"no extension", "README", "", []byte("text")},
		{"declared type mismatch", "x.pdf", "image/png", []byte("%PDF-1.4")},
		{"binary txt", "x.txt", "text/plain", []byte("abc\x00def")},
		{"empty", "x.pdf", "application/pdf", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.filename, tt.declared, tt.data)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Validate() error = %v, want validation error", err)
			}
		})
	}
}

func TestValidateRejectsOversizedForEveryExtension(t *testing.T) {
	v := New(16)
	for ext := range allowed {
		data := bytes.Repeat([]byte("a"), 17)
		if _, err := v.Validate("big."+ext, "", data); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Validate(big.%s) error = %v, want validation error", ext, err)
		}
	}
	if err := v.CheckSize(16); err != nil {
		t.Errorf("CheckSize(16) = %v, want nil at cap", err)
	}
}

func TestSanitizedPathTraversalStillValidated(t *testing.T) {
	res, err := New(0).Validate("../../secret/.report.pdf", "", []byte("%PDF-1.5"))
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if res.Filename != "_.report.pdf" {
		t.Errorf("Filename = %q, want _.report.pdf", res.Filename)
	}
}
