package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/doctier/core"
)

const documentPart = "word/document.xml"

// decodeDOCX reads the paragraphs of word/document.xml, including those
// nested in tables. Trimmed non-empty paragraphs are separated by a blank
// line. Legacy binary .doc files are not zip archives and fail as corrupt.
func decodeDOCX(ctx context.Context, content []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: not an office document: %v", core.ErrCorruptContent, err)
	}

	for _, file := range reader.File {
		if file.Name != documentPart {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: %v", core.ErrCorruptContent, err)
		}
		defer rc.Close()

		paragraphs, err := readParagraphs(ctx, rc)
		if err != nil {
			return "", err
		}
		return strings.Join(paragraphs, "\n\n"), nil
	}

	return "", fmt.Errorf("%w: missing %s", core.ErrCorruptContent, documentPart)
}

// readParagraphs streams WordprocessingML and collects the text of each w:p.
func readParagraphs(ctx context.Context, r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	var (
		paragraphs []string
		current    strings.Builder
		depth      int // nesting of w:p, text boxes can hold paragraphs
		inText     bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document xml: %v", core.ErrCorruptContent, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				depth++
			case "t":
				inText = depth > 0
			case "tab":
				if depth > 0 {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if depth > 0 {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				depth--
				if depth == 0 {
					if text := strings.TrimSpace(current.String()); text != "" {
						paragraphs = append(paragraphs, text)
					}
					current.Reset()
				}
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	return paragraphs, nil
}
