// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package runner launches external helper programs and parses their
// line-oriented structured output.
//
// Helpers follow a fixed convention: lines prefixed with "file_entry="
// carry comma-separated "file_name,file_type,file_size,object_key"
// records; every other line is diagnostic only. Exit code 0 means
// success; no entries are trusted from a failed run.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EntryPrefix marks structured file-entry lines in helper output.
const EntryPrefix = "file_entry="

// maxLogTail bounds the diagnostic lines retained on a Result.
const maxLogTail = 50

// FileEntry is one structured record emitted by a helper.
type FileEntry struct {
	Name      string
	Type      string
	Size      int64
	ObjectKey string
}

// Result holds the outcome of one helper invocation.
type Result struct {
	ExitCode int
	Entries  []FileEntry
	LogTail  []string
}

// ScriptError reports a helper that exited nonzero or produced
// unparseable structured output.
type ScriptError struct {
	Script   string
	ExitCode int
	Cause    string
	LogTail  []string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("runner: %s: %s (exit %d)", e.Script, e.Cause, e.ExitCode)
}

// Runner executes helper scripts as child processes.
type Runner struct {
	// Shell interprets the script. Defaults to "bash".
	Shell string
}

// Run executes script with the given positional args and extra environment,
// streaming combined stdout/stderr line by line. Structured entries are
// parsed as they arrive; diagnostic lines are logged and the tail retained.
func (r *Runner) Run(ctx context.Context, script string, args []string, env map[string]string) (*Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = "bash"
	}
	cmd := exec.CommandContext(ctx, shell, append([]string{script}, args...)...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	res := &Result{}
	var parseErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if payload, ok := strings.CutPrefix(line, EntryPrefix); ok {
				entry, err := parseEntry(payload)
				if err != nil && parseErr == nil {
					parseErr = err
				}
				if err == nil {
					res.Entries = append(res.Entries, entry)
				}
				continue
			}
			log.Printf("runner: %s: %s", script, line)
			res.LogTail = append(res.LogTail, line)
			if len(res.LogTail) > maxLogTail {
				res.LogTail = res.LogTail[1:]
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		pw.Close()
		<-done
		return nil, errors.Wrapf(err, "starting %s", script)
	}
	werr := cmd.Wait()
	pw.Close()
	<-done

	res.ExitCode = cmd.ProcessState.ExitCode()
	if werr != nil {
		res.Entries = nil
		return res, &ScriptError{
			Script:   script,
			ExitCode: res.ExitCode,
			Cause:    werr.Error(),
			LogTail:  res.LogTail,
		}
	}
	if parseErr != nil {
		res.Entries = nil
		return res, &ScriptError{
			Script:   script,
			ExitCode: res.ExitCode,
			Cause:    parseErr.Error(),
			LogTail:  res.LogTail,
		}
	}
	return res, nil
}

// parseEntry splits a "file_name,file_type,file_size,object_key" payload.
func parseEntry(payload string) (FileEntry, error) {
	parts := strings.Split(payload, ",")
	if len(parts) != 4 {
		return FileEntry{}, errors.Errorf("malformed file entry %q", payload)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return FileEntry{}, errors.Errorf("bad file size in entry %q", payload)
	}
	return FileEntry{
		Name:      strings.TrimSpace(parts[0]),
		Type:      strings.TrimSpace(parts[1]),
		Size:      size,
		ObjectKey: strings.TrimSpace(parts[3]),
	}, nil
}
