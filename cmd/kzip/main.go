// Command kzip archives a directory tree into a single deduplicated .kzip
// file, and lists or extracts existing archives.
//
// Usage:
//
//	kzip -i ./photos -o backup        # writes backup.kzip
//	kzip -l -i backup.kzip            # list contents
//	kzip -x -i backup.kzip -o ./out   # extract
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/meigma/kzip"
)

const version = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "print the version and exit")
		extract     = flag.BoolP("extract", "x", false, "extract a .kzip archive")
		list        = flag.BoolP("ls", "l", false, "list files inside a .kzip archive")
		input       = flag.StringP("input", "i", "", "input directory or archive file")
		output      = flag.StringP("output", "o", "", "output archive file or directory")
		verbose     = flag.BoolP("verbose", "v", false, "show debug information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("kzip: version %s\n", version)
		return
	}
	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *output == "" {
		*output = *input
	}

	if err := run(*input, *output, *extract, *list, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "kzip: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output string, extract, list, verbose bool) error {
	logger := slog.New(slog.DiscardHandler)
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	switch {
	case list:
		return listArchive(input, verbose)
	case extract:
		return extractArchive(input, output, logger)
	default:
		path, err := kzip.CreateFile(context.Background(), input, output, kzip.CreateWithLogger(logger))
		if err != nil {
			return err
		}
		fmt.Printf("kzip: wrote %s\n", path)
		return nil
	}
}

func extractArchive(input, output string, logger *slog.Logger) error {
	a, err := kzip.Open(input, kzip.ReadWithLogger(logger))
	if err != nil {
		return err
	}
	if err := a.CopyDir(output, ".",
		kzip.CopyWithOverwrite(true),
		kzip.CopyWithPreserveTimes(true),
	); err != nil {
		return err
	}
	fmt.Printf("kzip: extracted %d files to %s\n", a.Len(), output)
	return nil
}

func listArchive(input string, verbose bool) error {
	a, err := kzip.Open(input)
	if err != nil {
		return err
	}

	for e := range a.Entries() {
		if verbose {
			fmt.Printf("%s\n  created: %s, modified: %s, size: %s\n",
				e.Path,
				e.CreatedAt.Format(time.DateOnly),
				e.ModifiedAt.Format(time.DateOnly),
				humanize.Bytes(e.Size),
			)
		} else {
			fmt.Println(e.Path)
		}
	}

	st := a.Stats()
	fmt.Printf("Total files: %d\n", st.FileCount)
	fmt.Printf("Logical size: %s\n", humanize.Bytes(st.LogicalSize))
	fmt.Printf("Stored size: %s in %d blobs\n", humanize.Bytes(st.StoredSize), st.BlobCount)
	if saved := st.Deduplicated(); saved > 0 {
		fmt.Printf("Deduplicated: %s\n", humanize.Bytes(saved))
	}
	return nil
}
