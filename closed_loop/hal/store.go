package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"diffdrive-core/utils"
)

const erasedByte = 0xFF

var (
	ErrOutOfRange = errors.New("nv access out of range")
	ErrShortWrite = errors.New("nv short write")
)

func checkRange(offset, n, size int) error {
	if offset < 0 || n < 0 || offset+n > size {
		return fmt.Errorf("%w: offset %d len %d size %d", ErrOutOfRange, offset, n, size)
	}
	return nil
}

// MemStore is an NVStore backed by memory, erased to 0xFF.
type MemStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemStore(size int) *MemStore {
	data := make([]byte, size)
	for i := range data {
		data[i] = erasedByte
	}
	return &MemStore{data: data}
}

func (s *MemStore) ReadBytes(offset, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkRange(offset, n, len(s.data)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.data[offset:offset+n])
	return out, nil
}

func (s *MemStore) WriteBytes(b []byte, offset int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkRange(offset, len(b), len(s.data)); err != nil {
		return 0, err
	}
	return copy(s.data[offset:], b), nil
}

func (s *MemStore) Size() int { return len(s.data) }

// FileStore keeps the NV image in a fixed-size file so calibration survives
// restarts of the host process.
type FileStore struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// OpenFileStore opens or creates path, padding it to size with erased bytes.
func OpenFileStore(path string, size int) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open nv file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat nv file: %w", err)
	}
	if cur := int(st.Size()); cur < size {
		pad := make([]byte, size-cur)
		for i := range pad {
			pad[i] = erasedByte
		}
		if _, err := f.WriteAt(pad, int64(cur)); err != nil {
			f.Close()
			return nil, fmt.Errorf("pad nv file: %w", err)
		}
	}
	return &FileStore{f: f, size: size}, nil
}

func (s *FileStore) ReadBytes(offset, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkRange(offset, n, s.size); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := s.f.ReadAt(out, int64(offset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) WriteBytes(b []byte, offset int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkRange(offset, len(b), s.size); err != nil {
		return 0, err
	}
	n, err := s.f.WriteAt(b, int64(offset))
	if err != nil {
		return n, err
	}
	return n, s.f.Sync()
}

func (s *FileStore) Size() int { return s.size }

func (s *FileStore) Close() error { return s.f.Close() }

// WriteBytesExact writes b and panics if the store accepted fewer bytes than
// asked. I/O errors are returned.
func WriteBytesExact(s NVStore, b []byte, offset int) error {
	n, err := s.WriteBytes(b, offset)
	if err != nil {
		return err
	}
	if n != len(b) {
		panic(fmt.Errorf("%w: wrote %d of %d bytes at %d", ErrShortWrite, n, len(b), offset))
	}
	return nil
}

func WriteFloat(s NVStore, offset int, v float32) error {
	var b [4]byte
	utils.PutFloat32(b[:], v)
	return WriteBytesExact(s, b[:], offset)
}

func WriteUint16(s NVStore, offset int, v uint16) error {
	var b [2]byte
	utils.PutUint16(b[:], v)
	return WriteBytesExact(s, b[:], offset)
}

func ReadFloat(s NVStore, offset int) (float32, error) {
	b, err := s.ReadBytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return utils.Float32(b), nil
}

func ReadUint16(s NVStore, offset int) (uint16, error) {
	b, err := s.ReadBytes(offset, 2)
	if err != nil {
		return 0, err
	}
	return utils.Uint16(b), nil
}
