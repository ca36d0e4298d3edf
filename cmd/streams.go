package main

import (
	"fmt"
	"io"

	"pscx/ntfs"

	"github.com/spf13/cobra"
)

func newStreamsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "streams <path>",
		Short: "List the named data streams of a file or directory",
		Example: `  pscx streams C:\Users\me\Downloads\setup.exe
  pscx streams --format json report.docx`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := ntfs.ListStreams(args[0])
			if err != nil {
				return err
			}
			return writeStreams(cmd.OutOrStdout(), format, newStreamList(args[0], records))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, or yaml.")
	return cmd
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "cat <path> <stream>",
		Short:   "Copy the content of a named stream to standard output",
		Example: `  pscx cat setup.exe Zone.Identifier`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := ntfs.OpenStream(args[0], args[1])
			if err != nil {
				return err
			}
			defer rc.Close()
			if _, err := io.Copy(cmd.OutOrStdout(), rc); err != nil {
				return fmt.Errorf("read stream %s:%s: %w", args[0], args[1], err)
			}
			return nil
		},
	}
}

func newRmStreamCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rmstream <path> <stream>",
		Short:   "Delete a named stream",
		Example: `  pscx rmstream setup.exe Zone.Identifier`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ntfs.RemoveStream(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed stream %s from %s\n", args[1], args[0])
			return nil
		},
	}
}
