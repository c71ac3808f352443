package exp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no result is stored under an ID.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID is returned for IDs that cannot be used as file names.
	ErrInvalidID = errors.New("invalid id")
)

// FileStorage keeps one indented JSON file per run ID.
type FileStorage[T Data] struct {
	basePath string
}

func NewFileStorage[T Data](basePath string) (*FileStorage[T], error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage[T]{basePath: basePath}, nil
}

func (fs *FileStorage[T]) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(fs.basePath, id+".json"), nil
}

// Save writes data under id, replacing any previous result.
func (fs *FileStorage[T]) Save(id string, data T) error {
	path, err := fs.path(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.basePath, ".tmp-"+id+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads the result stored under id.
func (fs *FileStorage[T]) Load(id string) (T, error) {
	var data T
	path, err := fs.path(id)
	if err != nil {
		return data, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return data, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return data, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return data, fmt.Errorf("failed to decode %s: %w", id, err)
	}
	return data, nil
}

// Info describes a stored result.
type Info struct {
	ID         string    `json:"id"`
	ModifiedAt time.Time `json:"modified_at"`
	FileSizeKB int64     `json:"file_size_kb"`
}

// List returns all stored results, most recent first.
func (fs *FileStorage[T]) List() ([]Info, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:         strings.TrimSuffix(name, ".json"),
			ModifiedAt: info.ModTime(),
			FileSizeKB: info.Size() / 1024,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ModifiedAt.Equal(infos[j].ModifiedAt) {
			return infos[i].ID > infos[j].ID
		}
		return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
	})
	return infos, nil
}
