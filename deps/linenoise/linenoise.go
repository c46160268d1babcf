package linenoise

import (
	"bytes"
	"fmt"
	"github.com/peterh/liner"
	"io"
	"os"
)

type LineNoise struct {
	*liner.State
}

// New puts the terminal in raw mode until Close is called.
func New() *LineNoise {
	ln := &LineNoise{liner.NewLiner()}
	ln.SetCtrlCAborts(true)
	return ln
}

func (ln *LineNoise) HistoryLoad(filepath string) error {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	_, err = ln.ReadHistory(bytes.NewReader(content))
	return err
}

func (ln *LineNoise) HistorySave(filepath string) error {
	var buf bytes.Buffer
	_, err := ln.WriteHistory(&buf)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, buf.Bytes(), 0644)
}

func ClearScreen(w io.Writer) error {
	_, err := fmt.Fprint(w, "\x1b[H\x1b[2J")
	return err
}
