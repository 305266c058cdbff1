package artifact

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eleven-am/echolens/internal/shared"
	"github.com/google/uuid"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var audioExtensions = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/wave":      ".wav",
	"audio/ogg":       ".ogg",
	"application/ogg": ".ogg",
	"audio/aiff":      ".aiff",
}

// Handle points at one stored artifact. Release through the Store that
// produced it; releasing twice is a no-op.
type Handle struct {
	ID        string
	Kind      Kind
	Path      string
	Size      int
	CreatedAt time.Time

	once sync.Once
}

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "echolens")
	}
	for _, kind := range []Kind{KindImage, KindAudio} {
		path := filepath.Join(dir, string(kind))
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, &shared.StorageError{Op: "mkdir", Path: path, Err: err}
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Store(data []byte, kind Kind) (*Handle, error) {
	id := uuid.NewString()
	path := filepath.Join(s.dir, string(kind), id+extension(kind, data))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, &shared.StorageError{Op: "create", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, &shared.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, &shared.StorageError{Op: "close", Path: path, Err: err}
	}

	return &Handle{
		ID:        id,
		Kind:      kind,
		Path:      path,
		Size:      len(data),
		CreatedAt: time.Now(),
	}, nil
}

func (s *Store) Read(h *Handle) ([]byte, error) {
	data, err := os.ReadFile(h.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, &shared.StorageError{Op: "read", Path: h.Path, Err: err}
	}
	return data, nil
}

// Release deletes the artifact. Missing files and repeated calls are not errors.
func (s *Store) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		if rmErr := os.Remove(h.Path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = &shared.StorageError{Op: "remove", Path: h.Path, Err: rmErr}
		}
	})
	return err
}

// Lookup resolves an artifact id previously returned by Store.
func (s *Store) Lookup(kind Kind, id string) (*Handle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, string(kind), id+".*"))
	if err != nil {
		return nil, &shared.StorageError{Op: "lookup", Err: err}
	}
	if len(matches) == 0 {
		return nil, shared.ErrNotFound
	}

	info, err := os.Stat(matches[0])
	if err != nil {
		return nil, shared.ErrNotFound
	}
	return &Handle{
		ID:        id,
		Kind:      kind,
		Path:      matches[0],
		Size:      int(info.Size()),
		CreatedAt: info.ModTime(),
	}, nil
}

// Sweep removes artifacts older than maxAge and returns how many were removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, kind := range []Kind{KindImage, KindAudio} {
		dir := filepath.Join(s.dir, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, &shared.StorageError{Op: "sweep", Path: dir, Err: err}
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func extension(kind Kind, data []byte) string {
	switch kind {
	case KindAudio:
		if ext, ok := audioExtensions[http.DetectContentType(data)]; ok {
			return ext
		}
		return ".mp3"
	case KindImage:
		if ext, ok := imageExtensions[http.DetectContentType(data)]; ok {
			return ext
		}
		return ".img"
	default:
		return ".bin"
	}
}

// IsImage reports whether contentType is one of the accepted image types.
func IsImage(contentType string) bool {
	_, ok := imageExtensions[contentType]
	return ok
}
