package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"pscx/ntfs"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

type streamView struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	Attributes string `json:"attributes" yaml:"attributes"`
	Size       int64  `json:"size" yaml:"size"`
}

type streamList struct {
	Path    string       `json:"path" yaml:"path"`
	Streams []streamView `json:"streams" yaml:"streams"`
}

func newStreamList(path string, records []ntfs.StreamRecord) streamList {
	list := streamList{Path: path, Streams: make([]streamView, 0, len(records))}
	for _, r := range records {
		list.Streams = append(list.Streams, streamView{
			Name:       r.Name,
			Type:       r.Type.String(),
			Attributes: r.Attributes.String(),
			Size:       r.Size,
		})
	}
	return list
}

func writeStreams(w io.Writer, format string, list streamList) error {
	switch format {
	case formatJSON:
		return writeJSON(w, list)
	case formatYAML:
		return writeYAML(w, list)
	}
	if len(list.Streams) == 0 {
		_, err := fmt.Fprintf(w, "%s has no named streams.\n", list.Path)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tTYPE\tATTRIBUTES\tSIZE\n")
	fmt.Fprintf(tw, "----\t----\t----------\t----\n")
	for _, s := range list.Streams {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Type, s.Attributes, humanize.IBytes(uint64(s.Size)))
	}
	return tw.Flush()
}

type reparseView struct {
	Path      string `json:"path" yaml:"path"`
	Tag       string `json:"tag" yaml:"tag"`
	TagValue  string `json:"tag_value" yaml:"tag_value"`
	Kind      string `json:"kind" yaml:"kind"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
	PrintName string `json:"print_name,omitempty" yaml:"print_name,omitempty"`
	Relative  bool   `json:"relative,omitempty" yaml:"relative,omitempty"`
}

func newReparseView(rp ntfs.ReparsePoint) reparseView {
	return reparseView{
		Path:      rp.Path,
		Tag:       rp.Tag.String(),
		TagValue:  fmt.Sprintf("0x%08X", uint32(rp.Tag)),
		Kind:      rp.Kind.String(),
		Target:    rp.Target,
		PrintName: rp.PrintName,
		Relative:  rp.Relative(),
	}
}

func writeReparse(w io.Writer, format string, view reparseView) error {
	switch format {
	case formatJSON:
		return writeJSON(w, view)
	case formatYAML:
		return writeYAML(w, view)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Path:\t%s\n", view.Path)
	fmt.Fprintf(tw, "Tag:\t%s (%s)\n", view.Tag, view.TagValue)
	fmt.Fprintf(tw, "Kind:\t%s\n", view.Kind)
	if view.Target != "" {
		fmt.Fprintf(tw, "Target:\t%s\n", view.Target)
	}
	if view.PrintName != "" && view.PrintName != view.Target {
		fmt.Fprintf(tw, "Print name:\t%s\n", view.PrintName)
	}
	if view.Relative {
		fmt.Fprintf(tw, "Relative:\ttrue\n")
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(v)
}
