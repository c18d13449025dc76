// Package fsreconcile applies small, idempotent edits to host files: writing
// or removing a file wholesale, and merging/removing a single named line
// inside /etc/iproute2/rt_tables. Every function reports whether it changed
// anything, the same Changed/Unchanged discipline the OS state adapters in
// pkg/osadapt use for their own check-before-mutate steps.
package fsreconcile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Result reports whether a reconciliation step actually mutated host state.
type Result int

const (
	Unchanged Result = iota
	Changed
)

// EnsureFile writes contents to path with the given permissions if the file
// is absent or its contents differ, and reports Unchanged if it already
// matches byte for byte.
func EnsureFile(path string, contents []byte, perm os.FileMode) (Result, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, contents) {
		return Unchanged, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return Unchanged, fmt.Errorf("fsreconcile: reading %s: %w", path, err)
	}
	if err := os.WriteFile(path, contents, perm); err != nil {
		return Unchanged, fmt.Errorf("fsreconcile: writing %s: %w", path, err)
	}
	return Changed, nil
}

// RemoveFile deletes path, reporting Unchanged if it was already absent.
func RemoveFile(path string) (Result, error) {
	err := os.Remove(path)
	if err == nil {
		return Changed, nil
	}
	if os.IsNotExist(err) {
		return Unchanged, nil
	}
	return Unchanged, fmt.Errorf("fsreconcile: removing %s: %w", path, err)
}

// EnsureRTableLine ensures exactly one line "<id>\t<name>" exists in the
// iproute2 routing table registry at path: every line whose id equals id or
// whose name equals name is dropped first (a table can otherwise end up
// mapped to two different names, or a name mapped to two different tables),
// then the wanted line is appended. Reports Unchanged only if the wanted
// line was already the sole match and nothing needed dropping. The file is
// read line-by-line rather than parsed as INI because rt_tables carries
// free-form comments that must survive the round trip.
func EnsureRTableLine(path string, id int, name string) (Result, error) {
	lines, err := readLines(path)
	if err != nil {
		return Unchanged, err
	}

	want := fmt.Sprintf("%d\t%s", id, name)
	kept := lines[:0]
	alreadyPresent := false
	changed := false
	for _, line := range lines {
		tid, tname, ok := parseRTableLine(line)
		if !ok {
			kept = append(kept, line)
			continue
		}
		if tid == id && tname == name {
			alreadyPresent = true
			kept = append(kept, line)
			continue
		}
		if tid == id || tname == name {
			changed = true
			continue
		}
		kept = append(kept, line)
	}

	if alreadyPresent && !changed {
		return Unchanged, nil
	}
	if !alreadyPresent {
		kept = append(kept, want)
	}
	return Changed, writeLines(path, kept)
}

// RemoveRTableLine deletes the line mapping id to name, reporting Unchanged
// if no such line exists.
func RemoveRTableLine(path string, id int, name string) (Result, error) {
	lines, err := readLines(path)
	if err != nil {
		return Unchanged, err
	}

	kept := lines[:0]
	changed := false
	for _, line := range lines {
		tid, tname, ok := parseRTableLine(line)
		if ok && tid == id && tname == name {
			changed = true
			continue
		}
		kept = append(kept, line)
	}
	if !changed {
		return Unchanged, nil
	}
	return Changed, writeLines(path, kept)
}

func parseRTableLine(line string) (id int, name string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return 0, "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) != 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	return n, fields[1], true
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fsreconcile: opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fsreconcile: reading %s: %w", path, err)
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("fsreconcile: writing %s: %w", path, err)
	}
	return nil
}
