package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		filename string
		content  string
		want     string
	}{
		{"report.PDF", "", MimePDF},
		{"notes.md", "", MimeText},
		{"letter.docx", "", MimeDOCX},
		{"scan.jpeg", "", MimeJPEG},
		{"noext", "plain words here", MimeText},
		{"upload.bin", "%PDF-1.7\n", MimePDF},
		{"blob", "\x00\x01\x02\x03", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMIME(tt.filename, []byte(tt.content)))
		})
	}
}
