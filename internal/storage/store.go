package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Almanaei/cmsvs-sub000/internal/apperr"
)

// mimeByExtension maps accepted extensions to their expected MIME type.
// A client-declared MIME that disagrees produces a warning, not a rejection.
var mimeByExtension = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"txt":  "text/plain",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
}

// executableSignatures are magic bytes of executable formats. Content starting
// with any of these is rejected regardless of extension.
var executableSignatures = [][]byte{
	{0x4d, 0x5a},             // Windows PE
	{0x7f, 0x45, 0x4c, 0x46}, // ELF
	{0xca, 0xfe, 0xba, 0xbe}, // Java class / fat Mach-O
	{0xfe, 0xed, 0xfa, 0xce}, // Mach-O
}

// scriptPatterns are scanned in text-bearing uploads (documents and images
// claiming document extensions) to catch embedded script payloads.
var scriptPatterns = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("<?php"),
}

// Store persists uploads under a base directory, one subdirectory per request
// number. Writes are atomic: content lands in a .tmp file, the size is
// verified, then the file is renamed into place.
type Store struct {
	baseDir     string
	maxFileSize int64
	allowed     map[string]bool
	logger      *zap.Logger
	now         func() time.Time

	// mu serializes saves: the free-name search and the write that claims
	// it must not interleave between two concurrent uploads.
	mu sync.Mutex
}

// SaveResult describes one stored file.
type SaveResult struct {
	StoredName string
	Path       string
	Size       int64
	Warning    string
}

// NewStore creates the base directory if needed.
func NewStore(baseDir string, maxFileSize int64, allowedTypes []string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	return &Store{
		baseDir:     baseDir,
		maxFileSize: maxFileSize,
		allowed:     allowed,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// WithClock overrides the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ext returns the lowercase extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Validate checks filename, extension and size before any bytes are written.
func (s *Store) Validate(originalName string, size int64) error {
	if strings.TrimSpace(originalName) == "" {
		return apperr.Validation("filename is empty")
	}
	if strings.Contains(originalName, "..") || strings.ContainsAny(originalName, "/\\") {
		return apperr.Validation("filename %q contains path separators", originalName)
	}
	ext := Ext(originalName)
	if ext == "" || !s.allowed[ext] {
		return apperr.Validation("file type %q is not allowed", ext)
	}
	if size <= 0 {
		return apperr.Validation("file %q is empty", originalName)
	}
	if size > s.maxFileSize {
		return apperr.Validation("file %q exceeds maximum size of %d bytes", originalName, s.maxFileSize)
	}
	return nil
}

// scanWindow bounds content sniffing to the leading bytes; payloads further
// in are the renderer's problem, not the upload gate's.
const scanWindow = 1024

// Scan inspects the first KiB of content for executable signatures and
// embedded scripts. It returns an error on rejection and otherwise a
// non-fatal warning when the declared MIME type does not match the extension.
func (s *Store) Scan(originalName, declaredMime string, content []byte) (warning string, err error) {
	head := content
	if len(head) > scanWindow {
		head = head[:scanWindow]
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(head, sig) {
			return "", apperr.Validation("file %q contains executable content", originalName)
		}
	}

	ext := Ext(originalName)
	switch ext {
	case "txt", "doc", "docx", "pdf", "jpg", "jpeg", "png", "gif":
		lower := bytes.ToLower(head)
		for _, pat := range scriptPatterns {
			if bytes.Contains(lower, pat) {
				return "", apperr.Validation("file %q contains embedded script content", originalName)
			}
		}
	}

	if expected, ok := mimeByExtension[ext]; ok && declaredMime != "" && declaredMime != expected {
		warning = fmt.Sprintf("file %q declared MIME type %s but extension expects %s", originalName, declaredMime, expected)
	}
	return warning, nil
}

// StoredName builds the on-disk name: category, the last 8 characters of the
// request number, a timestamp, and a field identifier (or a random salt when
// the caller supplies none), followed by the original extension.
func (s *Store) StoredName(category, requestNumber, fieldID, originalName string) string {
	suffix := requestNumber
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	if fieldID == "" {
		fieldID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	ts := s.now().UTC().Format("20060102150405")
	ext := filepath.Ext(originalName)
	return fmt.Sprintf("%s_%s_%s_%s%s", category, suffix, ts, fieldID, strings.ToLower(ext))
}

// Save writes content atomically under the request's directory. When the
// target name already exists the file is stored as name_copy_N instead, with
// N increasing until a free name is found.
func (s *Store) Save(requestNumber, storedName string, content []byte) (*SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, requestNumber)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create request directory: %w", err)
	}

	finalName := storedName
	target := filepath.Join(dir, finalName)
	for n := 1; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(storedName)
		base := strings.TrimSuffix(storedName, ext)
		finalName = fmt.Sprintf("%s_copy_%d%s", base, n, ext)
		target = filepath.Join(dir, finalName)
	}

	// Write, fsync, then rename: the bytes must be durable before the name
	// becomes visible.
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	info, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() != int64(len(content)) {
		os.Remove(tmp)
		return nil, fmt.Errorf("short write: wrote %d of %d bytes", info.Size(), len(content))
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename temp file: %w", err)
	}
	if err := os.Chmod(target, 0o644); err != nil {
		s.logger.Warn("chmod stored file failed", zap.String("path", target), zap.Error(err))
	}

	return &SaveResult{StoredName: finalName, Path: target, Size: int64(len(content))}, nil
}

// Delete removes one stored file. A missing file is not an error.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete stored file: %w", err)
	}
	return nil
}

// DeleteRequestDir removes a request's entire upload directory.
func (s *Store) DeleteRequestDir(requestNumber string) error {
	if requestNumber == "" {
		return nil
	}
	dir := filepath.Join(s.baseDir, requestNumber)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete request directory: %w", err)
	}
	return nil
}

// SweepTemp removes .tmp leftovers older than maxAge. Crashed uploads leave
// these behind; the sweep runs periodically from main.
func (s *Store) SweepTemp(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	removed := 0
	filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") && info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		s.logger.Info("swept stale temp files", zap.Int("count", removed))
	}
	return removed
}
