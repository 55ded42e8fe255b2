package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validItem = `{"payload_version":"v1","source":"newsroom","source_item_id":"a-1","title":"Alliance announces fab investment"}`

func TestCollectPayloadFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.jsonl"), validItem)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.jsonl"), validItem)
	mustWriteFile(t, filepath.Join(root, "nested", "c.jsonl"), validItem)
	mustWriteFile(t, filepath.Join(root, "nested", "d.json"), validItem)

	files, err := collectPayloadFiles(root, true, []string{".jsonl"})
	if err != nil {
		t.Fatalf("collectPayloadFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 jsonl files, got %d (%v)", len(files), files)
	}

	files, err = collectPayloadFiles(root, true, []string{".jsonl", ".json"})
	if err != nil {
		t.Fatalf("collectPayloadFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 payload files, got %d (%v)", len(files), files)
	}
}

func TestCollectPayloadFilesNonRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.jsonl"), validItem)
	mustWriteFile(t, filepath.Join(root, "nested", "c.jsonl"), validItem)

	files, err := collectPayloadFiles(root, false, []string{".jsonl"})
	if err != nil {
		t.Fatalf("collectPayloadFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 jsonl file, got %d (%v)", len(files), files)
	}
}

func TestCollectPayloadFilesRejectsMissingDir(t *testing.T) {
	t.Parallel()

	if _, err := collectPayloadFiles(filepath.Join(t.TempDir(), "missing"), true, []string{".jsonl"}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if _, err := collectPayloadFiles("  ", true, []string{".jsonl"}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestValidateFileCountsJSONLRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "newsroom.jsonl")
	mustWriteFile(t, path, strings.Join([]string{
		validItem,
		"",
		`{"payload_version":"v1","source":"newsroom"}`,
		`{not json`,
		validItem,
	}, "\n"))

	var result validateResult
	var out bytes.Buffer
	if err := validateFile(path, &result, &out); err != nil {
		t.Fatalf("validateFile failed: %v", err)
	}
	if result.Records != 4 || result.Valid != 2 || result.Invalid != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(out.String(), "newsroom.jsonl:3:") || !strings.Contains(out.String(), "malformed JSON") {
		t.Fatalf("expected line-addressed errors, got %q", out.String())
	}
}

func TestValidateFileSinglePayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	mustWriteFile(t, good, validItem)
	mustWriteFile(t, bad, `{"payload_version":"v2"}`)

	var result validateResult
	var out bytes.Buffer
	for _, path := range []string{good, bad} {
		if err := validateFile(path, &result, &out); err != nil {
			t.Fatalf("validateFile(%s) failed: %v", path, err)
		}
	}
	if result.Records != 2 || result.Valid != 1 || result.Invalid != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSampleSnapshotsAreValid(t *testing.T) {
	t.Parallel()

	files, err := collectPayloadFiles(filepath.Join("..", "..", "testdata", "raw"), true, []string{".jsonl"})
	if err != nil {
		t.Fatalf("collectPayloadFiles failed: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected sample jsonl snapshots")
	}
	var result validateResult
	var out bytes.Buffer
	for _, path := range files {
		if err := validateFile(path, &result, &out); err != nil {
			t.Fatalf("validateFile(%s) failed: %v", path, err)
		}
	}
	if result.Invalid != 0 {
		t.Fatalf("sample snapshots should validate, got %s", out.String())
	}
}

func TestParseExtensions(t *testing.T) {
	t.Parallel()

	exts, err := parseExtensions(" jsonl, .JSON ,.jsonl")
	if err != nil {
		t.Fatalf("parseExtensions failed: %v", err)
	}
	if strings.Join(exts, ",") != ".jsonl,.json" {
		t.Fatalf("unexpected extensions %v", exts)
	}
	if _, err := parseExtensions(".xml"); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := parseExtensions(" , "); err == nil {
		t.Fatalf("expected empty extension list error")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
