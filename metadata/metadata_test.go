package metadata

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"
)

type asciiTag struct {
	id    uint16
	value string
}

// exifJPEG builds a JPEG holding only an APP1 segment with IFD0 ASCII tags.
func exifJPEG(tags ...asciiTag) []byte {
	le := binary.LittleEndian
	ifdSize := 2 + 12*len(tags) + 4
	tiff := []byte("II*\x00\x08\x00\x00\x00")
	ifd := make([]byte, ifdSize)
	le.PutUint16(ifd[0:2], uint16(len(tags)))
	var values []byte
	for i, tag := range tags {
		v := append([]byte(tag.value), 0)
		entry := ifd[2+12*i:]
		le.PutUint16(entry[0:2], tag.id)
		le.PutUint16(entry[2:4], 2)
		le.PutUint32(entry[4:8], uint32(len(v)))
		if len(v) <= 4 {
			copy(entry[8:12], v)
			continue
		}
		le.PutUint32(entry[8:12], uint32(8+ifdSize+len(values)))
		values = append(values, v...)
	}
	tiff = append(append(tiff, ifd...), values...)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	out := []byte{0xFF, 0xD8, 0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(out[4:6], uint16(len(payload)+2))
	out = append(out, payload...)
	return append(out, 0xFF, 0xD9)
}

// minimalPDF writes a one page document with an information dictionary and
// a cross-reference table whose offsets match the written objects.
func minimalPDF(info string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>",
		info,
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f\r\n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, len(objects), xref)
	return buf.Bytes()
}

func docx(t *testing.T, core string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("docProps/core.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(core)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractImage(t *testing.T) {
	jpeg := exifJPEG(
		asciiTag{id: 0x010F, value: "Canon"},
		asciiTag{id: 0x0110, value: "EOS"},
		asciiTag{id: 0x0132, value: "2024:01:02 03:04:05"},
	)
	meta := Extract(jpeg, MimeJPEG)
	if meta["make"] != "Canon" || meta["model"] != "EOS" {
		t.Fatalf("unexpected image metadata: %v", meta)
	}
	dt, _ := meta["datetime"].(string)
	if !strings.HasPrefix(dt, "2024-01-02T03:04:05") {
		t.Fatalf("unexpected datetime %q", dt)
	}
}

func TestExtractPDF(t *testing.T) {
	pdf := minimalPDF("<< /Title (Quarterly) /Author (mallory) /Producer (pscx) >>")
	meta := Extract(pdf, MimePDF)
	if meta["title"] != "Quarterly" || meta["author"] != "mallory" || meta["producer"] != "pscx" {
		t.Fatalf("unexpected pdf metadata: %v", meta)
	}
	if _, ok := meta["creator"]; ok {
		t.Fatalf("empty fields must be omitted: %v", meta)
	}
}

func TestExtractDOCX(t *testing.T) {
	core := `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:title>Plan</dc:title><dc:creator>mallory</dc:creator>
</cp:coreProperties>`
	meta := Extract(docx(t, core), MimeDOCX)
	if meta["title"] != "Plan" || meta["creator"] != "mallory" {
		t.Fatalf("unexpected docx metadata: %v", meta)
	}

	if meta := Extract(docx(t, "not xml"), MimeDOCX); meta != nil {
		t.Fatalf("expected nil for unparsable core properties, got %v", meta)
	}
}

func TestExtractUnsupportedOrMalformed(t *testing.T) {
	cases := map[string][]byte{
		MimeJPEG:     []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 2},
		MimePDF:      []byte("%PDF-1.4\ngarbage"),
		MimeDOCX:     []byte("PK\x03\x04"),
		"text/plain": []byte("hello"),
	}
	for mime, content := range cases {
		if meta := Extract(content, mime); meta != nil {
			t.Errorf("%s: expected nil, got %v", mime, meta)
		}
	}
}
