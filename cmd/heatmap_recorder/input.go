package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/OCAP2/heatmap/internal/dispatcher"
	"github.com/OCAP2/heatmap/internal/worker"
	"github.com/rs/zerolog"
)

// maxLineSize bounds a single command line.
const maxLineSize = 1 << 20

// commandLine is one host command as sent on the wire:
// {"command":":STATE:","args":["12","100,0,200","true","true","false"]}
type commandLine struct {
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args"`
}

// decodeLine parses one JSON command line. Arguments may be strings, numbers
// or booleans; all of them are handed to the handlers as strings.
func decodeLine(line []byte) (dispatcher.Event, error) {
	var cl commandLine
	if err := json.Unmarshal(line, &cl); err != nil {
		return dispatcher.Event{}, fmt.Errorf("invalid command line: %w", err)
	}
	if cl.Command == "" {
		return dispatcher.Event{}, errors.New("command line without command")
	}

	args := make([]string, len(cl.Args))
	for i, raw := range cl.Args {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			args[i] = s
			continue
		}
		args[i] = strings.TrimSpace(string(raw))
	}
	return dispatcher.Event{Command: cl.Command, Args: args}, nil
}

// readCommands dispatches every line of r until EOF or until the session
// ends. Bad lines and failed commands are logged and skipped.
func readCommands(r io.Reader, d *dispatcher.Dispatcher, log zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		e, err := decodeLine([]byte(line))
		if err != nil {
			log.Warn().Err(err).Int("line", lineNo).Msg("Skipping command line")
			continue
		}

		if _, err := d.Dispatch(e); err != nil {
			log.Error().Err(err).Str("command", e.Command).Int("line", lineNo).Msg("Command failed")
		}
		if e.Command == worker.CmdSessionEnd {
			return nil
		}
	}
	return scanner.Err()
}

// openInput opens the command stream; "-" and "" select stdin.
func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
