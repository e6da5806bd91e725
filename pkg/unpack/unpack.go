// Package unpack recursively expands uploaded archives into a flat,
// ordered list of supported document files, defending against path
// traversal and zip-bomb-style unbounded nesting (spec §4.3).
package unpack

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxDepth bounds recursive archive expansion.
const MaxDepth = 10

// supportedExtensions is the whitelist of file types the parse stage
// accepts directly.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".pptx": true,
	".png":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
}

// IsAcceptableUpload reports whether filename's extension is something the
// pipeline can eventually act on directly or expand: a supported document
// type, or a zip archive that may contain one. The API boundary's
// createAnalysis validation (spec §6) uses this so its whitelist can never
// drift from what Unpack itself honors.
func IsAcceptableUpload(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedExtensions[ext] || ext == ".zip"
}

// File is one unpacked entry: its on-disk path (inside a temporary
// extraction root) and the original filename it was uploaded or archived
// under.
type File struct {
	Path             string
	OriginalFilename string
}

// Unpacker extracts nested zip archives under a fresh temp directory tree
// and resolves the flat file list, rejecting unsafe archive entries.
type Unpacker struct {
	// tempDirPrefix names the directories created under os.TempDir, kept
	// as a field so tests can isolate their own runs.
	tempDirPrefix string
}

// New returns an Unpacker that creates fresh temp directories per call.
func New() *Unpacker {
	return &Unpacker{tempDirPrefix: "analyzer-unpack-"}
}

// Unpack accepts a list of uploaded file paths (as stored by the API
// boundary before this call) and returns the flat, ordered sequence of
// supported files after recursively expanding any zip archives among
// them. Corrupt archives are skipped with a warning and contribute zero
// files; they never abort the batch.
func (u *Unpacker) Unpack(uploadPaths []string) ([]File, error) {
	var out []File
	for _, path := range uploadPaths {
		files, err := u.expand(path, filepath.Base(path), 0)
		if err != nil {
			slog.Warn("skipping unreadable upload", "path", path, "error", err)
			continue
		}
		out = append(out, files...)
	}
	return out, nil
}

// expand classifies a single path: pass through if it's a supported file
// type, recurse if it's a zip archive (depth permitting), else skip with
// a warning.
func (u *Unpacker) expand(path, originalName string, depth int) ([]File, error) {
	ext := strings.ToLower(filepath.Ext(originalName))

	if supportedExtensions[ext] {
		return []File{{Path: path, OriginalFilename: originalName}}, nil
	}

	if ext == ".zip" {
		if depth >= MaxDepth {
			slog.Warn("archive nesting exceeds depth limit, skipping", "path", path, "depth", depth)
			return nil, nil
		}
		return u.expandZip(path, depth)
	}

	slog.Warn("unsupported file type, skipping", "path", path, "extension", ext)
	return nil, nil
}

// expandZip extracts archivePath into a fresh temp directory and recurses
// into each extracted entry. A corrupt archive is logged and treated as
// contributing zero files, not a batch-aborting error.
func (u *Unpacker) expandZip(archivePath string, depth int) ([]File, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		slog.Warn("corrupt or unreadable archive, skipping", "path", archivePath, "error", err)
		return nil, nil
	}
	defer r.Close()

	root, err := os.MkdirTemp("", u.tempDirPrefix+uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	var out []File
	for _, entry := range r.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		destPath, ok := safeJoin(root, entry.Name)
		if !ok {
			slog.Warn("rejecting archive entry outside extraction root", "archive", archivePath, "entry", entry.Name)
			continue
		}

		if err := extractEntry(entry, destPath); err != nil {
			slog.Warn("failed to extract archive entry, skipping", "archive", archivePath, "entry", entry.Name, "error", err)
			continue
		}

		originalName := filepath.Base(entry.Name)
		files, err := u.expand(destPath, originalName, depth+1)
		if err != nil {
			slog.Warn("failed to expand extracted entry, skipping", "entry", entry.Name, "error", err)
			continue
		}
		out = append(out, files...)
	}
	return out, nil
}

// safeJoin normalizes entryName (backslashes to forward slashes, leading
// roots/drive letters and `.`/`..` components dropped) and verifies the
// resulting destination resolves inside root, per spec §4.3's path
// traversal defense. Returns false if the entry cannot be safely placed.
func safeJoin(root, entryName string) (string, bool) {
	normalized := strings.ReplaceAll(entryName, "\\", "/")

	var clean []string
	for _, part := range strings.Split(normalized, "/") {
		switch part {
		case "", ".", "..":
			continue
		default:
			if idx := strings.Index(part, ":"); idx >= 0 {
				// strip a leading drive letter fragment such as "C:"
				part = part[idx+1:]
				if part == "" {
					continue
				}
			}
			clean = append(clean, part)
		}
	}
	if len(clean) == 0 {
		return "", false
	}

	dest := filepath.Join(append([]string{root}, clean...)...)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return "", false
	}
	if absDest != absRoot && !strings.HasPrefix(absDest, absRoot+string(filepath.Separator)) {
		return "", false
	}
	return absDest, true
}

// extractEntry writes one zip entry's content to destPath, creating any
// intermediate directories.
func extractEntry(entry *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", destPath, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create extracted file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write extracted file: %w", err)
	}
	return nil
}
