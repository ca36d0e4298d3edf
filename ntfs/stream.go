package ntfs

import (
	"fmt"
	"strings"
)

// StreamType is the stream id of a WIN32_STREAM_ID header.
type StreamType uint32

const (
	StreamData               StreamType = 1  // BACKUP_DATA
	StreamEAData             StreamType = 2  // BACKUP_EA_DATA
	StreamSecurityData       StreamType = 3  // BACKUP_SECURITY_DATA
	StreamAlternateData      StreamType = 4  // BACKUP_ALTERNATE_DATA
	StreamLink               StreamType = 5  // BACKUP_LINK
	StreamPropertyData       StreamType = 6  // BACKUP_PROPERTY_DATA
	StreamObjectID           StreamType = 7  // BACKUP_OBJECT_ID
	StreamReparseData        StreamType = 8  // BACKUP_REPARSE_DATA
	StreamSparseBlock        StreamType = 9  // BACKUP_SPARSE_BLOCK
	StreamTxfsData           StreamType = 10 // BACKUP_TXFS_DATA
	StreamGhostedFileExtents StreamType = 11 // BACKUP_GHOSTED_FILE_EXTENTS
)

var streamTypeNames = map[StreamType]string{
	StreamData:               "DATA",
	StreamEAData:             "EA_DATA",
	StreamSecurityData:       "SECURITY_DATA",
	StreamAlternateData:      "ALTERNATE_DATA",
	StreamLink:               "LINK",
	StreamPropertyData:       "PROPERTY_DATA",
	StreamObjectID:           "OBJECT_ID",
	StreamReparseData:        "REPARSE_DATA",
	StreamSparseBlock:        "SPARSE_BLOCK",
	StreamTxfsData:           "TXFS_DATA",
	StreamGhostedFileExtents: "GHOSTED_FILE_EXTENTS",
}

func (t StreamType) String() string {
	if name, ok := streamTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

func (t StreamType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// StreamAttributes holds the STREAM_* attribute bits of a stream header.
type StreamAttributes uint32

const (
	StreamModifiedWhenRead           StreamAttributes = 0x01
	StreamContainsSecurity           StreamAttributes = 0x02
	StreamContainsProperties         StreamAttributes = 0x04
	StreamSparse                     StreamAttributes = 0x08
	StreamContainsGhostedFileExtents StreamAttributes = 0x10
)

var streamAttributeNames = []struct {
	flag StreamAttributes
	name string
}{
	{StreamModifiedWhenRead, "MODIFIED_WHEN_READ"},
	{StreamContainsSecurity, "CONTAINS_SECURITY"},
	{StreamContainsProperties, "CONTAINS_PROPERTIES"},
	{StreamSparse, "SPARSE"},
	{StreamContainsGhostedFileExtents, "CONTAINS_GHOSTED_FILE_EXTENTS"},
}

func (a StreamAttributes) String() string {
	if a == 0 {
		return "NORMAL"
	}
	var parts []string
	rest := a
	for _, n := range streamAttributeNames {
		if a&n.flag != 0 {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

func (a StreamAttributes) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// StreamRecord is one named stream found in a file's backup stream.
type StreamRecord struct {
	Type       StreamType       `json:"type"`
	Attributes StreamAttributes `json:"attributes"`
	Size       int64            `json:"size"`
	Name       string           `json:"name"`
}

type streamHeader struct {
	id       uint32
	attrs    uint32
	size     int64
	nameSize uint32
}

func decodeStreamHeader(b []byte) streamHeader {
	low := uint64(le.Uint32(b[8:12]))
	high := uint64(le.Uint32(b[12:16]))
	return streamHeader{
		id:       le.Uint32(b[0:4]),
		attrs:    le.Uint32(b[4:8]),
		size:     int64(high<<32 | low),
		nameSize: le.Uint32(b[16:20]),
	}
}

// maxStreamNameBytes bounds a single stream name read: 255 characters plus
// the ":" prefix and ":$DATA" suffix fit well inside it.
const maxStreamNameBytes = (260 + 36) * wcharSize

// backupCursor is the stateful BackupRead context of one open handle.
type backupCursor interface {
	// Read fills p from the current position and returns the bytes read.
	Read(p []byte) (int, error)
	// Seek skips n payload bytes of the current stream.
	Seek(n int64) error
	// Abort releases the backup context. It must be called exactly once.
	Abort() error
}

// enumerateStreams walks stream headers until a short read or any failure,
// which both count as the end of the list. The cursor is always aborted.
func enumerateStreams(c backupCursor) []StreamRecord {
	defer c.Abort()

	var (
		streams []StreamRecord
		hdr     [streamHeaderSize]byte
		nameBuf []byte
	)
	for {
		n, err := c.Read(hdr[:])
		if err != nil || n < streamHeaderSize {
			return streams
		}
		h := decodeStreamHeader(hdr[:])
		// A size with the top bit set cannot be skipped.
		if h.size < 0 {
			return streams
		}

		name := ""
		if h.nameSize > 0 {
			if h.nameSize > maxStreamNameBytes {
				return streams
			}
			if cap(nameBuf) < int(h.nameSize) {
				nameBuf = make([]byte, h.nameSize)
			}
			nameBuf = nameBuf[:h.nameSize]
			n, err := c.Read(nameBuf)
			if err != nil || n < len(nameBuf) {
				return streams
			}
			name = normalizeStreamName(decodeUTF16(nameBuf))
		}
		if name != "" {
			streams = append(streams, StreamRecord{
				Type:       StreamType(h.id),
				Attributes: StreamAttributes(h.attrs),
				Size:       h.size,
				Name:       name,
			})
		}
		if h.size > 0 {
			if err := c.Seek(h.size); err != nil {
				return streams
			}
		}
	}
}

// normalizeStreamName turns ":Zone.Identifier:$DATA" into "Zone.Identifier".
func normalizeStreamName(name string) string {
	name = strings.TrimPrefix(name, ":")
	return strings.TrimSuffix(name, ":$DATA")
}

// streamPath builds the "path:name:$DATA" form used to open a named stream.
func streamPath(path, name string) string {
	return path + ":" + normalizeStreamName(name) + ":$DATA"
}
