package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return usageErrorf("manifest source and output path are required")
	}

	var err error
	switch args[0] {
	case "fetch":
		err = runFetch(args[1:])
	case "probe":
		err = runProbe(args[1:])
	case "doctor":
		err = runDoctor(args[1:])
	case "clean":
		err = runClean(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		// Bare "mediafetch <source> <output>" is a fetch.
		err = runFetch(args)
	}
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func printRootUsage() {
	fmt.Println("mediafetch: download segmented media from a manifest and assemble one file")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mediafetch [fetch] [flags] <manifest_source> <output_path>")
	fmt.Println("  mediafetch probe [--json] <manifest_source>")
	fmt.Println("  mediafetch doctor [--json]")
	fmt.Println("  mediafetch clean <output_path>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  fetch     download, assemble and mux (default command)")
	fmt.Println("  probe     list renditions and variants without downloading")
	fmt.Println("  doctor    check ffmpeg, settings file and output directory")
	fmt.Println("  clean     remove the resumable temp directory of an output")
	fmt.Println()
	fmt.Println("Manifest sources: http(s) URL, file:// URI or local path.")
	fmt.Println("Interrupted downloads resume when the same command is run again.")
	fmt.Println()
	fmt.Println("Run 'mediafetch fetch -h' for fetch flags.")
}

// parseInterspersed lets flags follow positional arguments, so
// "fetch <src> <out> --audio-only" works like "fetch --audio-only <src> <out>".
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, usageErrorf("%v", err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		if args[0] == "--" {
			return append(positional, args[1:]...), nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func requireArgs(fs *flag.FlagSet, got []string, names ...string) error {
	if len(got) == len(names) {
		return nil
	}
	fs.Usage()
	if len(got) < len(names) {
		return usageErrorf("%s requires %s", fs.Name(), strings.Join(names, " and "))
	}
	return usageErrorf("%s: unexpected argument %q", fs.Name(), got[len(names)])
}
