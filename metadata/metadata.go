// Package metadata pulls document properties out of payloads found in named
// streams: EXIF tags of images, the PDF information dictionary and the core
// properties of DOCX files.
package metadata

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rwcarlsen/goexif/exif"
)

const (
	MimeJPEG = "image/jpeg"
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

const maxCorePropertiesSize = 1 << 20

// Extract returns the properties found in content, or nil when mimeType is
// not handled or the payload does not parse.
func Extract(content []byte, mimeType string) map[string]interface{} {
	var meta map[string]interface{}
	switch mimeType {
	case MimeJPEG:
		meta = imageMetadata(content)
	case MimePDF:
		meta = pdfMetadata(content)
	case MimeDOCX:
		meta = docxMetadata(content)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func imageMetadata(content []byte) map[string]interface{} {
	x, err := exif.Decode(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	meta := make(map[string]interface{})
	if tm, err := x.DateTime(); err == nil {
		meta["datetime"] = tm.Format(time.RFC3339)
	}
	for key, field := range map[string]exif.FieldName{"make": exif.Make, "model": exif.Model, "software": exif.Software} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		if v, err := tag.StringVal(); err == nil {
			if v = strings.TrimRight(v, "\x00 "); v != "" {
				meta[key] = v
			}
		}
	}
	return meta
}

func pdfMetadata(content []byte) (meta map[string]interface{}) {
	// pdfcpu can panic on malformed cross-reference data.
	defer func() {
		if r := recover(); r != nil {
			meta = nil
		}
	}()
	info, err := api.PDFInfo(bytes.NewReader(content), "stream.pdf", nil, false, nil)
	if err != nil || info == nil {
		return nil
	}
	meta = make(map[string]interface{})
	for key, value := range map[string]string{
		"title":    info.Title,
		"author":   info.Author,
		"creator":  info.Creator,
		"producer": info.Producer,
	} {
		if value != "" {
			meta[key] = value
		}
	}
	return meta
}

type coreProperties struct {
	Title       string `xml:"title"`
	Subject     string `xml:"subject"`
	Creator     string `xml:"creator"`
	Keywords    string `xml:"keywords"`
	Description string `xml:"description"`
}

func docxMetadata(content []byte) map[string]interface{} {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil
	}
	props, err := readCoreProperties(zr)
	if err != nil {
		return nil
	}
	meta := make(map[string]interface{})
	for key, value := range map[string]string{
		"title":       props.Title,
		"subject":     props.Subject,
		"creator":     props.Creator,
		"keywords":    props.Keywords,
		"description": props.Description,
	} {
		if value != "" {
			meta[key] = value
		}
	}
	return meta
}

func readCoreProperties(zr *zip.Reader) (coreProperties, error) {
	var props coreProperties
	for _, f := range zr.File {
		if f.Name != "docProps/core.xml" {
			continue
		}
		if f.UncompressedSize64 > maxCorePropertiesSize {
			return props, fmt.Errorf("core properties of %d bytes", f.UncompressedSize64)
		}
		rc, err := f.Open()
		if err != nil {
			return props, err
		}
		defer rc.Close()
		err = xml.NewDecoder(io.LimitReader(rc, maxCorePropertiesSize)).Decode(&props)
		return props, err
	}
	return props, fmt.Errorf("no core properties")
}
