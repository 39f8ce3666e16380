package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"golang.org/x/term"
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// printJSON writes v indented, highlighted when stdout is a terminal.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s := string(data) + "\n"
	if w == os.Stdout && isTerminal() {
		return quick.Highlight(w, s, "json", "terminal256", "monokai")
	}
	_, err = fmt.Fprint(w, s)
	return err
}
