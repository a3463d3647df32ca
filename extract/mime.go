package extract

import (
	"net/http"
	"path/filepath"
	"strings"
)

var extensionTypes = map[string]string{
	".pdf":  MimePDF,
	".docx": MimeDOCX,
	".doc":  MimeDOC,
	".txt":  MimeText,
	".md":   MimeText,
	".csv":  MimeText,
	".log":  MimeText,
	".json": MimeText,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".png":  MimePNG,
}

// DetectMIME guesses the MIME type of an upload from its file extension,
// falling back to sniffing the first bytes.
func DetectMIME(filename string, content []byte) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return normalizeMIME(http.DetectContentType(content))
}
