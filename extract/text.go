package extract

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/poiesic/doctier/core"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// decodeText tries UTF-8, BOM-marked UTF-16, Windows-1252 and finally
// ISO-8859-1, which accepts any byte sequence.
func decodeText(_ context.Context, content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if utf8.Valid(content) {
		return string(content), nil
	}

	if bytes.HasPrefix(content, utf16LEBOM) || bytes.HasPrefix(content, utf16BEBOM) {
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(content)
		if err == nil {
			return string(out), nil
		}
	}

	if out, err := charmap.Windows1252.NewDecoder().Bytes(content); err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return string(out), nil
	}

	out, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		return "", fmt.Errorf("%w: undecodable text: %v", core.ErrCorruptContent, err)
	}
	return string(out), nil
}
