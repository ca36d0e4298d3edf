package ntfs

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

const (
	// MaxReparseBufferSize is MAXIMUM_REPARSE_DATA_BUFFER_SIZE.
	MaxReparseBufferSize = 16 * 1024

	// WIN32_STREAM_ID without the trailing name: id, attributes, size
	// low/high and name length, each a little-endian uint32.
	streamHeaderSize = 20

	// REPARSE_DATA_BUFFER: tag(4) dataLength(2) reserved(2).
	reparseHeaderSize = 8
	// Substitute/print offset and length pairs follow the generic header.
	linkNameFieldsSize = 8
	// Path buffers start after the name fields, plus a flags word for symlinks.
	mountPointPathOffset = reparseHeaderSize + linkNameFieldsSize
	symlinkPathOffset    = mountPointPathOffset + 4

	// REPARSE_GUID_DATA_BUFFER header used for non-Microsoft tags.
	reparseGUIDHeaderSize = reparseHeaderSize + 16

	wcharSize = 2
)

var le = binary.LittleEndian

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func readUint16(buf []byte, off int, field string) (uint16, error) {
	if off < 0 || off+2 > len(buf) {
		return 0, &FormatError{Field: field, Offset: off, Length: 2, Size: len(buf)}
	}
	return le.Uint16(buf[off : off+2]), nil
}

func readUint32(buf []byte, off int, field string) (uint32, error) {
	if off < 0 || off+4 > len(buf) {
		return 0, &FormatError{Field: field, Offset: off, Length: 4, Size: len(buf)}
	}
	return le.Uint32(buf[off : off+4]), nil
}

// region returns buf[base+off : base+off+length] after checking it lies
// inside buf.
func region(buf []byte, base int, off, length uint16, field string) ([]byte, error) {
	start := base + int(off)
	end := start + int(length)
	if end > len(buf) {
		return nil, &FormatError{Field: field, Offset: start, Length: int(length), Size: len(buf)}
	}
	return buf[start:end], nil
}

// decodeUTF16 decodes up to len(b)/2 UTF-16LE code units and stops at the
// first NUL. A trailing odd byte is ignored.
func decodeUTF16(b []byte) string {
	b = b[:len(b)&^1]
	for i := 0; i+1 < len(b); i += wcharSize {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	if len(b) == 0 {
		return ""
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(out, []byte("�")))
	}
	return string(out)
}

func encodeUTF16(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}
