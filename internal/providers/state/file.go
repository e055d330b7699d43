package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const fileSuffix = ".state.zst"

// FileStore writes one zstd-compressed file per instance under a directory
type FileStore struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &FileStore{dir: dir, enc: enc, dec: dec}, nil
}

func (s *FileStore) path(instanceID string) string {
	return filepath.Join(s.dir, instanceID+fileSuffix)
}

func (s *FileStore) GetState(ctx context.Context, instanceID string) ([]byte, bool, error) {
	if err := validateKey(instanceID); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path(instanceID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	blob, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress state %s: %w", instanceID, err)
	}
	return blob, true, nil
}

func (s *FileStore) SetState(ctx context.Context, instanceID string, blob []byte) error {
	if err := validateKey(instanceID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, instanceID+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(s.enc.EncodeAll(blob, nil)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(instanceID))
}

func (s *FileStore) DeleteState(ctx context.Context, instanceID string) error {
	if err := validateKey(instanceID); err != nil {
		return err
	}
	err := os.Remove(s.path(instanceID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Close releases the codec resources
func (s *FileStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
