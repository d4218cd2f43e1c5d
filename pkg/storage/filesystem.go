package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the configured cap.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	// ErrUnsupportedType is returned when the sniffed content type is not allowed.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrInvalidPath is returned for paths escaping the base directory.
	ErrInvalidPath = errors.New("invalid file path")
)

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// StoredFile describes a persisted upload.
type StoredFile struct {
	RelPath     string
	ContentType string
	Size        int64
}

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir      string
	maxSize      int64
	allowedTypes map[string]struct{}
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string, maxSize int64, allowedTypes []string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &LocalStorage{baseDir: baseDir, maxSize: maxSize, allowedTypes: allowed}, nil
}

// MaxSize returns the upload cap in bytes.
func (s *LocalStorage) MaxSize() int64 {
	return s.maxSize
}

// SaveUpload validates the stream by size and sniffed content type, then
// stores it under dir with a random name. Nothing is written when the
// validation fails.
func (s *LocalStorage) SaveUpload(dir string, r io.Reader) (*StoredFile, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedType)
	}

	contentType := strings.ToLower(strings.SplitN(http.DetectContentType(head), ";", 2)[0])
	if len(s.allowedTypes) > 0 {
		if _, ok := s.allowedTypes[contentType]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
		}
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	if s.maxSize > 0 {
		body = io.LimitReader(body, s.maxSize+1)
	}

	name := fmt.Sprintf("%s-%s%s", time.Now().UTC().Format("20060102"), uuid.NewString(), extensions[contentType])
	relPath := filepath.ToSlash(filepath.Join(dir, name))
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare upload directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	written, err := io.Copy(file, body)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.maxSize > 0 && written > s.maxSize {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("write upload: %w", err)
	}

	return &StoredFile{RelPath: relPath, ContentType: contentType, Size: written}, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(relPath string) (*os.File, error) {
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(relPath string) error {
	path, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete stored file: %w", err)
	}
	return nil
}

// ContentTypeFor guesses the content type of a stored file from its extension.
func ContentTypeFor(relPath string) string {
	ext := strings.ToLower(filepath.Ext(relPath))
	for contentType, e := range extensions {
		if e == ext {
			return contentType
		}
	}
	return "application/octet-stream"
}

func (s *LocalStorage) resolve(relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.baseDir, clean), nil
}
