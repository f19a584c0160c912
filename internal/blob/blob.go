// Package blob stores uploaded documents by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edubridge/classquiz/internal/model"
)

// Store keeps document bytes. Get returns model.ErrNotFound for unknown keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// QuizDocumentKey is the key of one upload of a quiz's question paper or
// answer key. Each upload gets its own key so a rejected upload never
// replaces stored bytes.
func QuizDocumentKey(quizID string, role model.DocumentRole, uploadID string) string {
	return "quizzes/" + quizID + "/" + string(role) + "/" + uploadID
}

// SubmissionDocumentKey is the key of one upload of a participant's answer script.
func SubmissionDocumentKey(quizID, participantID, uploadID string) string {
	return "quizzes/" + quizID + "/submissions/" + participantID + "/" + uploadID
}

// Local stores blobs under a directory on disk.
type Local struct {
	dir string
}

// NewLocal returns a store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") || clean == "/" {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(l.dir, filepath.FromSlash(clean)), nil
}

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) error {
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// Write to a temp file first so readers never see a partial document.
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	src, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	return data, err
}

func (l *Local) Delete(_ context.Context, key string) error {
	dst, err := l.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(dst)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
