package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/poiesic/doctier/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, opts ...Option) *Extractor {
	t.Helper()
	opts = append([]Option{WithTokenCounter(WordCounter{})}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	return e
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocument = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Patient summary</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">  </w:t></w:r></w:p>
    <w:p><w:r><w:t>Blood pressure </w:t></w:r><w:r><w:t>normal.</w:t></w:r></w:p>
    <w:tbl><w:tr><w:tc><w:p><w:r><w:t>Table cell</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
  </w:body>
</w:document>`

func TestExtract_PlainText(t *testing.T) {
	e := newTestExtractor(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		content  []byte
		expected string
	}{
		{"utf-8", []byte("héllo world"), "héllo world"},
		{"utf-8 with bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...), "hello"},
		{"utf-16 little endian", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "hi"},
		{"utf-16 big endian", []byte{0xFE, 0xFF, 0, 'h', 0, 'i'}, "hi"},
		{"windows-1252", []byte("caf\xe9 \x93quoted\x94"), "café “quoted”"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := e.Extract(ctx, tt.content, MimeText)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, text)
		})
	}
}

func TestExtract_MimeParametersIgnored(t *testing.T) {
	e := newTestExtractor(t)

	text, err := e.Extract(context.Background(), []byte("hello"), "Text/Plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.True(t, e.Supports("text/plain; charset=utf-8"))
}

func TestExtract_DOCX(t *testing.T) {
	e := newTestExtractor(t)
	content := buildDOCX(t, sampleDocument)

	for _, mimeType := range []string{MimeDOCX, MimeDOC} {
		text, err := e.Extract(context.Background(), content, mimeType)
		require.NoError(t, err)
		assert.Equal(t, "Patient summary\n\nBlood pressure normal.\n\nTable cell", text)
	}
}

func TestExtract_CorruptContent(t *testing.T) {
	e := newTestExtractor(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		content  []byte
		mimeType string
	}{
		{"legacy doc bytes", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, MimeDOC},
		{"docx without document part", func() []byte {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			_, _ = zw.Create("other.xml")
			_ = zw.Close()
			return buf.Bytes()
		}(), MimeDOCX},
		{"truncated xml", buildDOCX(t, "<w:document><w:body><w:p>"), MimeDOCX},
		{"not a pdf", []byte("this is not a pdf"), MimePDF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(ctx, tt.content, tt.mimeType)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrExtractionFailed)
			assert.ErrorIs(t, err, core.ErrCorruptContent)
		})
	}
}

func TestExtract_EmptyContent(t *testing.T) {
	e := newTestExtractor(t)
	ctx := context.Background()

	_, err := e.Extract(ctx, nil, MimeText)
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	_, err = e.Extract(ctx, []byte("  \n\t "), MimeText)
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	_, err = e.Extract(ctx, buildDOCX(t, `<w:document xmlns:w="x"><w:body><w:p/></w:body></w:document>`), MimeDOCX)
	assert.ErrorIs(t, err, core.ErrEmptyContent)
}

func TestExtract_UnsupportedFormat(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract(context.Background(), []byte("x"), "application/zip")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	// Images need an OCR engine
	_, err = e.Extract(context.Background(), []byte("x"), MimePNG)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

type fakeOCR struct {
	text   string
	format string
}

func (f *fakeOCR) Recognize(_ context.Context, _ []byte, format string) (string, error) {
	f.format = format
	return f.text, nil
}

func TestExtract_ImageWithOCR(t *testing.T) {
	ocr := &fakeOCR{text: "  scanned prescription \n"}
	e := newTestExtractor(t, WithOCR(ocr))

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	text, err := e.Extract(context.Background(), buf.Bytes(), MimePNG)
	require.NoError(t, err)
	assert.Equal(t, "scanned prescription", text)
	assert.Equal(t, "png", ocr.format)

	_, err = e.Extract(context.Background(), []byte("not an image"), MimeJPEG)
	assert.ErrorIs(t, err, core.ErrCorruptContent)
}

func TestExtract_Timeout(t *testing.T) {
	e := newTestExtractor(t, WithTimeout(20*time.Millisecond))
	e.Register("application/x-slow", DecoderFunc(func(ctx context.Context, _ []byte) (string, error) {
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	}))

	start := time.Now()
	_, err := e.Extract(context.Background(), []byte("x"), "application/x-slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, core.ErrExtractionFailed)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestExtract_DecoderPanic(t *testing.T) {
	e := newTestExtractor(t)
	e.Register("application/x-panic", DecoderFunc(func(context.Context, []byte) (string, error) {
		panic("bad table")
	}))

	_, err := e.Extract(context.Background(), []byte("x"), "application/x-panic")
	assert.ErrorIs(t, err, core.ErrCorruptContent)
}

func TestExtract_DecoderError(t *testing.T) {
	e := newTestExtractor(t)
	boom := errors.New("boom")
	e.Register("application/x-broken", DecoderFunc(func(context.Context, []byte) (string, error) {
		return "", boom
	}))

	_, err := e.Extract(context.Background(), []byte("x"), "application/x-broken")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, core.ErrExtractionFailed)
}

func TestProcess(t *testing.T) {
	e := newTestExtractor(t)

	p, err := e.Process(context.Background(), []byte("one two three four five six seven eight nine ten"), "notes.txt", MimeText)
	require.NoError(t, err)

	assert.Equal(t, 13, p.TokenCount)
	assert.Equal(t, 10, p.WordCount)
	assert.Equal(t, 48, p.CharacterCount)
	assert.Equal(t, ContentHash(p.Text), p.ContentHash)
	assert.Len(t, p.ContentHash, 64)
}

func TestSupportedTypes(t *testing.T) {
	e := newTestExtractor(t)
	assert.Equal(t, []string{MimeDOC, MimePDF, MimeDOCX, MimeText}, e.SupportedTypes())

	withOCR := newTestExtractor(t, WithOCR(&fakeOCR{}))
	assert.Len(t, withOCR.SupportedTypes(), 7)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithTimeout(-time.Second))
	assert.Error(t, err)

	_, err = New(WithTokenCounter(nil))
	assert.Error(t, err)
}
