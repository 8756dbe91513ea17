package cli

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/state"
)

// maxExportBytes caps the archive's uncompressed payload.
const maxExportBytes = 8 << 20

// exportable are the working-directory documents "all" covers.
var exportable = []string{state.ConfigFile, state.CheckpointFile, state.JournalFile}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export [file|all]",
		Short: "Archive run state as a tar.gz",
		Long: `Archive a working-directory document, or all of them, as a tar.gz.
The uncompressed payload is capped at 8 MiB.

Example:
  replica export all --dir ./work
  replica export state.json --dir ./work -o backup.tar.gz`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			what := "all"
			if len(args) == 1 {
				what = args[0]
			}
			return runExport(rootOpts, what, out, cmd)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "replica-export.tar.gz", "archive path to write")

	return cmd
}

func runExport(opts *RootOptions, what, out string, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}

	names := exportable
	if what != "all" {
		ok := false
		for _, n := range exportable {
			if n == what {
				ok = true
				break
			}
		}
		if !ok {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("unknown file %q: must be one of %v or \"all\"", what, exportable))
		}
		names = []string{what}
	}

	f, err := os.Create(out)
	if err != nil {
		return WrapExitError(ExitCommandError, "create archive", err)
	}
	defer f.Close()

	if err := writeArchive(f, a.store.Dir(), names); err != nil {
		os.Remove(out)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	return nil
}

func writeArchive(w io.Writer, dir string, names []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	var total int64
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "stat "+name, err)
		}

		total += info.Size()
		if total > maxExportBytes {
			return NewExitError(ExitFailure,
				fmt.Sprintf("export exceeds the %d MiB cap", maxExportBytes>>20))
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "archive header for "+name, err)
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return WrapExitError(ExitCommandError, "write archive header", err)
		}

		src, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "open "+name, err)
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return WrapExitError(ExitCommandError, "archive "+name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return WrapExitError(ExitCommandError, "finish archive", err)
	}
	if err := gz.Close(); err != nil {
		return WrapExitError(ExitCommandError, "finish compression", err)
	}
	return nil
}
