package main

import (
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// errQuit ends an interactive loop without an error exit.
var errQuit = errors.New("quit")

// interact reads lines until EOF, ^C or handle returns errQuit.
func interact(rl *readline.Instance, handle func(line string) error) error {
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := handle(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

// promptConfig builds the readline config. An empty historyFile keeps
// history in memory only.
func promptConfig(prompt, historyFile string) *readline.Config {
	return &readline.Config{
		Prompt:                 prompt,
		HistoryFile:            historyFile,
		DisableAutoSaveHistory: historyFile == "",
		HistoryLimit:           100,
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
	}
}
