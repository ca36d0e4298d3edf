package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"pscx/ntfs"

	"github.com/spf13/cobra"
)

func newReparseCmd() *cobra.Command {
	var (
		raw    bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "reparse <path>",
		Short: "Show the reparse point of a file or directory",
		Long: `Show the decoded reparse point of a file or directory. Junctions and
symbolic links report their target; other tags are reported by name only.
With --raw the reparse buffer is dumped in hex instead.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if raw {
				data, err := ntfs.GetReparsePointData(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
				return err
			}
			rp, err := ntfs.GetReparsePoint(args[0])
			if err != nil {
				return err
			}
			return writeReparse(cmd.OutOrStdout(), format, newReparseView(rp))
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Dump the raw reparse buffer in hex.")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json, or yaml.")
	cmd.MarkFlagsMutuallyExclusive("raw", "format")
	return cmd
}

func newJunctionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "junction <link> <target>",
		Short: "Create a directory junction",
		Long: `Create the directory <link> and turn it into a junction that redirects
to <target>. <link> must not exist yet.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, target := args[0], args[1]
			if err := os.Mkdir(link, 0o755); err != nil {
				return err
			}
			if err := ntfs.CreateJunction(link, target); err != nil {
				if rmErr := os.Remove(link); rmErr != nil {
					return fmt.Errorf("%w (leftover directory %s: %v)", err, link, rmErr)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Junction created for %s <<===>> %s\n", link, target)
			return nil
		},
	}
}

func newUnjunctionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unjunction <path>",
		Short: "Remove the reparse point of a junction or link",
		Long: `Remove the reparse data of <path>. A junction becomes an ordinary empty
directory; the directory itself is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ntfs.DeleteReparsePoint(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed reparse point from %s\n", args[0])
			return nil
		},
	}
}

func newSymlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symlink <link> <target>",
		Short: "Create a symbolic link",
		Long: `Create the symbolic link <link> pointing at <target>. A directory link
is created when <target> is a directory.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ntfs.CreateSymbolicLink(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Symbolic link created for %s <<===>> %s\n", args[0], args[1])
			return nil
		},
	}
}
