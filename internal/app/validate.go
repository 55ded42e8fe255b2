package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	payloadschema "horse.fit/dailybrief/schema"
)

const maxValidateLineBytes = 4 << 20

type validateResult struct {
	Files   int
	Records int
	Valid   int
	Invalid int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/raw", "Directory containing news item snapshots")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	extList := fs.String("ext", ".jsonl", "Comma-separated file extensions to validate (.jsonl, .json)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	exts, err := parseExtensions(*extList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--ext: %v\n", err)
		return 2
	}

	root := strings.TrimSpace(*dir)
	files, err := collectPayloadFiles(root, *recursive, exts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validateResult{}
	for _, path := range files {
		result.Files++
		if err := validateFile(path, &result, os.Stderr); err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
		}
	}

	fmt.Printf(
		"validate files=%d records=%d valid=%d invalid=%d dir=%s recursive=%t\n",
		result.Files,
		result.Records,
		result.Valid,
		result.Invalid,
		root,
		*recursive,
	)

	if result.Files == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no %s files found under %s\n", strings.Join(exts, "/"), root)
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

// validateFile checks one snapshot. A .json file holds a single payload; a .jsonl file
// holds one payload per non-blank line. Per-record problems are reported to out and
// counted; the returned error is for failures that stop the file from being read.
func validateFile(path string, result *validateResult, out io.Writer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	if !strings.EqualFold(filepath.Ext(path), ".jsonl") {
		result.Records++
		if err := validateRecord(raw); err != nil {
			result.Invalid++
			fmt.Fprintf(out, "INVALID %s: %v\n", path, err)
			return nil
		}
		result.Valid++
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxValidateLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		result.Records++
		if err := validateRecord(line); err != nil {
			result.Invalid++
			fmt.Fprintf(out, "INVALID %s:%d: %v\n", path, lineNo, err)
			continue
		}
		result.Valid++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan line %d: %w", lineNo+1, err)
	}
	return nil
}

func validateRecord(raw []byte) error {
	if !json.Valid(raw) {
		return fmt.Errorf("malformed JSON")
	}
	if _, err := payloadschema.ParseNewsItem(raw); err != nil {
		return err
	}
	return nil
}

func parseExtensions(raw string) ([]string, error) {
	var exts []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != ".json" && ext != ".jsonl" {
			return nil, fmt.Errorf("unsupported extension %q", ext)
		}
		if !slices.Contains(exts, ext) {
			exts = append(exts, ext)
		}
	}
	if len(exts) == 0 {
		return nil, fmt.Errorf("at least one extension is required")
	}
	return exts, nil
}

func hasExtension(name string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
}

func collectPayloadFiles(root string, recursive bool, exts []string) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(cleanRoot)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", cleanRoot, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if hasExtension(entry.Name(), exts) {
				files = append(files, filepath.Join(cleanRoot, entry.Name()))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != cleanRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if hasExtension(d.Name(), exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
