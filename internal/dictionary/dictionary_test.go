package dictionary

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestReadFoldsAlternates(t *testing.T) {
	input := ";;; comment\nread R IY D\nread(2) R EH D\n\nto T UW\n"
	p := make(Pronunciations)
	if err := Read(strings.NewReader(input), p); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(p["read"]) != 2 || p["read"][1][1] != "EH" {
		t.Fatalf("unexpected entries for read: %v", p["read"])
	}
	if len(p) != 2 {
		t.Fatalf("expected two words, got %v", p.Words())
	}
}

func TestReadRejectsMissingPhonemes(t *testing.T) {
	if err := Read(strings.NewReader("lonely\n"), make(Pronunciations)); err == nil {
		t.Fatalf("expected error for word without phonemes")
	}
}

func TestWriteIsSorted(t *testing.T) {
	p := Pronunciations{
		"zoo": {{"Z", "UW"}},
		"cat": {{"K", "AE", "T"}, {"K", "AH", "T"}},
	}
	var buf bytes.Buffer
	if err := Write(&buf, p); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "cat K AE T\ncat K AH T\nzoo Z UW\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestCacheMergesByUnion(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.txt")
	custom := filepath.Join(dir, "custom.txt")
	now := time.Now()
	writeFile(t, base, "cat K AE T\ndog D AO G\n", now)
	writeFile(t, custom, "cat K AH T\ncat K AE T\n", now)

	cache := NewCache([]string{base, custom, filepath.Join(dir, "missing.txt")}, newLogger())
	merged, err := cache.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(merged["cat"]) != 2 {
		t.Fatalf("expected union of both pronunciations of cat, got %v", merged["cat"])
	}
	if merged["cat"][0][1] != "AE" || merged["cat"][1][1] != "AH" {
		t.Fatalf("unexpected order %v", merged["cat"])
	}
	if len(merged["dog"]) != 1 {
		t.Fatalf("expected dog from base dictionary")
	}
}

func TestCacheReloadsOnlyWhenModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.txt")
	modTime := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeFile(t, path, "cat K AE T\n", modTime)

	cache := NewCache([]string{path}, newLogger())
	if _, err := cache.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	writeFile(t, path, "cat K AH T\n", modTime)
	merged, err := cache.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cache.Reads() != 1 || merged["cat"][0][1] != "AE" {
		t.Fatalf("unchanged mtime must serve cached entries, reads=%d entries=%v", cache.Reads(), merged["cat"])
	}

	writeFile(t, path, "cat K AH T\n", modTime.Add(time.Minute))
	merged, err = cache.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cache.Reads() != 2 || len(merged["cat"]) != 1 || merged["cat"][0][1] != "AH" {
		t.Fatalf("changed file must replace cached entries, reads=%d entries=%v", cache.Reads(), merged["cat"])
	}
}

func TestLoadReturnsIndependentMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.txt")
	writeFile(t, path, "cat K AE T\n", time.Now())

	cache := NewCache([]string{path}, newLogger())
	first, _ := cache.Load()
	first.Merge(Pronunciations{"cat": {{"X"}}})
	second, _ := cache.Load()
	if len(second["cat"]) != 1 {
		t.Fatalf("callers must not mutate the cache, got %v", second["cat"])
	}
}

func TestWordTransform(t *testing.T) {
	cases := map[string]string{"": "MiXed", "ignore": "MiXed", "lower": "mixed", "upper": "MIXED"}
	for casing, want := range cases {
		fn, err := WordTransform(casing)
		if err != nil {
			t.Fatalf("%s: %v", casing, err)
		}
		if got := fn("MiXed"); got != want {
			t.Fatalf("%s: got %q want %q", casing, got, want)
		}
	}
	if _, err := WordTransform("title"); err == nil {
		t.Fatalf("expected error for unknown casing")
	}
}
