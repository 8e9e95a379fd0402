package training

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Decoder flags written to conf/model.conf when the model has none.
var modelConfFlags = []string{
	"--min-active=200",
	"--max-active=3000",
	"--beam=10.0",
	"--lattice-beam=2.0",
	"--acoustic-scale=1.0",
	"--frame-subsampling-factor=3",
	"--endpoint.silence-phones=1:2:3:4:5:6:7:8:9:10",
	"--endpoint.rule2.min-trailing-silence=0.5",
	"--endpoint.rule3.min-trailing-silence=1.0",
	"--endpoint.rule4.min-trailing-silence=2.0",
}

// gunzip decompresses src into dst.
func gunzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("decompress graph: %w", err)
	}
	return out.Close()
}

// ensureModelConf writes the default decoder flags unless the file exists.
func ensureModelConf(modelDir string) error {
	p := filepath.Join(modelDir, "conf", "model.conf")
	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(strings.Join(modelConfFlags, "\n")+"\n"), 0o644)
}

type archiveEntry struct {
	src  string
	name string
}

// archiveEntries lists the model files in archive order.
func archiveEntries(modelDir string) ([]archiveEntry, error) {
	entries := []archiveEntry{
		{filepath.Join(modelDir, "online", "final.mdl"), "am/final.mdl"},
		{filepath.Join(modelDir, "online", "conf", "mfcc.conf"), "conf/mfcc.conf"},
		{filepath.Join(modelDir, "conf", "model.conf"), "conf/model.conf"},
		{filepath.Join(modelDir, "online", "conf", "splice.conf"), "ivector/splice.conf"},
	}

	ivector := filepath.Join(modelDir, "online", "ivector_extractor")
	err := filepath.WalkDir(ivector, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == "splice_opts" {
			return nil
		}
		entries = append(entries, archiveEntry{p, path.Join("ivector", d.Name())})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk ivector extractor: %w", err)
	}

	entries = append(entries,
		archiveEntry{filepath.Join(modelDir, "data", "lang", "G.fst"), "graph/Gr.fst"},
		archiveEntry{filepath.Join(modelDir, "graph", "HCLG.fst"), "graph/HCLGr.fst"},
	)
	err = filepath.WalkDir(filepath.Join(modelDir, "graph"), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == "HCLG.fst" {
			return nil
		}
		rel, err := filepath.Rel(modelDir, p)
		if err != nil {
			return err
		}
		entries = append(entries, archiveEntry{p, filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk graph: %w", err)
	}
	return entries, nil
}

// writeArchive packages the model into dst. A failed write leaves the
// partial archive in place.
func writeArchive(modelDir, dst string) error {
	if err := ensureModelConf(modelDir); err != nil {
		return fmt.Errorf("write model.conf: %w", err)
	}
	entries, err := archiveEntries(modelDir)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, e archiveEntry) error {
	in, err := os.Open(e.src)
	if err != nil {
		return fmt.Errorf("archive %s: %w", e.name, err)
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("archive %s: %w", e.name, err)
	}
	return nil
}

func md5File(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
