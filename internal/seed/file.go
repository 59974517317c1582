package seed

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/agentworkforce/relaycollab/internal/collab"
)

// FileSource reads the seed of room from <dir>/<room>.txt.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Load(ctx context.Context, room string) (string, bool, error) {
	if err := collab.ValidateRoomID(room); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, room+".txt"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *FileSource) Close() error {
	return nil
}
