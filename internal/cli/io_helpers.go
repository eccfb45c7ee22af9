package cli

import (
	"encoding/json"
	"os"

	"golang.org/x/term"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// stdinIsTTY is false for pipes and for /dev/null, which is a character
// device but not a terminal.
func stdinIsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
