package scanner

import "pscx/ntfs"

// FileRecord is the payload of one "file" output record.
type FileRecord struct {
	Path         string             `json:"path"`
	Name         string             `json:"name,omitempty"`
	Size         int64              `json:"size"`
	IsDir        bool               `json:"is_dir,omitempty"`
	ModTime      string             `json:"mod_time,omitempty"`
	CreationTime string             `json:"creation_time,omitempty"`
	AccessTime   string             `json:"access_time,omitempty"`
	ChangeTime   string             `json:"change_time,omitempty"`
	Attributes   []string           `json:"attributes,omitempty"`
	Permissions  string             `json:"permissions,omitempty"`
	FileID       string             `json:"file_id,omitempty"`
	Xattrs       map[string]string  `json:"xattrs,omitempty"`
	Streams      []StreamInfo       `json:"streams,omitempty"`
	Reparse      *ntfs.ReparsePoint `json:"reparse,omitempty"`
}

// StreamInfo describes one named stream and what was learned from its
// payload. Content fields stay empty when content inspection is off or the
// stream could not be read.
type StreamInfo struct {
	Name        string                 `json:"name"`
	Type        ntfs.StreamType        `json:"type"`
	Attributes  ntfs.StreamAttributes  `json:"attributes"`
	Size        int64                  `json:"size"`
	MimeType    string                 `json:"mime_type,omitempty"`
	Hashes      map[string]string      `json:"hashes,omitempty"`
	FuzzyHashes map[string]string      `json:"fuzzy_hashes,omitempty"`
	SearchHits  map[string]int         `json:"search_hits,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Truncated   bool                   `json:"truncated,omitempty"`
}

// HasSignalData reports whether the record carries anything beyond plain
// file metadata.
func (r *FileRecord) HasSignalData() bool {
	if r == nil {
		return false
	}
	return len(r.Streams) > 0 || r.Reparse != nil || len(r.Xattrs) > 0
}
