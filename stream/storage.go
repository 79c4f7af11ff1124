package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/notargets/DGFlow/container"
)

var (
	// ErrFull reports an insertion into a storage without room left
	ErrFull = errors.New("frame storage full")
	// ErrFrameNotFound reports a frame that no storage holds
	ErrFrameNotFound = errors.New("frame not found")
	// ErrDuplicateFrame reports a second insertion of the same frame
	ErrDuplicateFrame = errors.New("frame already stored")
)

// Command tells a storage which frames to drop once a frame is forwarded
type Command uint8

const (
	Remove              Command = iota // Drop the frame only
	RemoveUntil                        // Drop the frame and every older one
	RemoveUntilExcluded                // Drop every frame older than the frame
)

func (c Command) String() string {
	switch c {
	case Remove:
		return "remove"
	case RemoveUntil:
		return "remove_until"
	case RemoveUntilExcluded:
		return "remove_until_excluded"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// dropped reports whether frame id goes away when cmd is applied for frame
func (c Command) dropped(id, frame uint64) bool {
	switch c {
	case Remove:
		return id == frame
	case RemoveUntil:
		return id <= frame
	case RemoveUntilExcluded:
		return id < frame
	}
	return false
}

// Storage holds frames by ID
type Storage interface {
	Insert(id uint64, c *container.Container) error
	Get(id uint64) (*container.Container, error)
	Has(id uint64) bool
	Erase(id uint64)
	Apply(cmd Command, frame uint64)
	Full() bool
	Len() int
	IDs() []uint64 // Ascending
}

// MemoryStorage keeps up to a fixed number of frames in memory
type MemoryStorage struct {
	capacity int
	frames   map[uint64]*container.Container
}

// NewMemoryStorage holds at most capacity frames, at least one
func NewMemoryStorage(capacity int) *MemoryStorage {
	return &MemoryStorage{capacity: max(capacity, 1), frames: make(map[uint64]*container.Container)}
}

func (m *MemoryStorage) Insert(id uint64, c *container.Container) error {
	if _, ok := m.frames[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateFrame, id)
	}
	if m.Full() {
		return fmt.Errorf("%w: %d frames in memory", ErrFull, m.capacity)
	}
	m.frames[id] = c
	return nil
}

func (m *MemoryStorage) Get(id uint64) (*container.Container, error) {
	c, ok := m.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFrameNotFound, id)
	}
	return c, nil
}

func (m *MemoryStorage) Has(id uint64) bool { _, ok := m.frames[id]; return ok }
func (m *MemoryStorage) Erase(id uint64)    { delete(m.frames, id) }
func (m *MemoryStorage) Full() bool         { return len(m.frames) >= m.capacity }
func (m *MemoryStorage) Len() int           { return len(m.frames) }

func (m *MemoryStorage) Apply(cmd Command, frame uint64) {
	for id := range m.frames {
		if cmd.dropped(id, frame) {
			delete(m.frames, id)
		}
	}
}

func (m *MemoryStorage) IDs() []uint64 {
	ids := make([]uint64, 0, len(m.frames))
	for id := range m.frames {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// FileStorage writes serialized frames into a directory, one file per frame
type FileStorage struct {
	dir      string
	rank     int
	capacity int
	files    map[uint64]string
}

// NewFileStorage stores at most capacity frames of rank under dir. An empty
// dir selects the system temporary directory.
func NewFileStorage(dir string, rank, capacity int) *FileStorage {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileStorage{dir: dir, rank: rank, capacity: max(capacity, 1), files: make(map[uint64]string)}
}

func (f *FileStorage) path(id uint64) string {
	return filepath.Join(f.dir, fmt.Sprintf("frame_%d_%d.msgpack", f.rank, id))
}

func (f *FileStorage) Insert(id uint64, c *container.Container) error {
	if _, ok := f.files[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateFrame, id)
	}
	if f.Full() {
		return fmt.Errorf("%w: %d frames on disk", ErrFull, f.capacity)
	}
	data, err := c.Serialize()
	if err != nil {
		return fmt.Errorf("store frame %d: %w", id, err)
	}
	name := f.path(id)
	// Files left by another run are not overwritten
	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("store frame %d: %w", id, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(name)
		return fmt.Errorf("store frame %d: %w", id, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("store frame %d: %w", id, err)
	}
	f.files[id] = name
	return nil
}

func (f *FileStorage) Get(id uint64) (*container.Container, error) {
	name, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFrameNotFound, id)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("load frame %d: %w", id, err)
	}
	return container.Deserialize(data)
}

func (f *FileStorage) Has(id uint64) bool { _, ok := f.files[id]; return ok }
func (f *FileStorage) Full() bool         { return len(f.files) >= f.capacity }
func (f *FileStorage) Len() int           { return len(f.files) }

func (f *FileStorage) Erase(id uint64) {
	if name, ok := f.files[id]; ok {
		os.Remove(name)
		delete(f.files, id)
	}
}

func (f *FileStorage) Apply(cmd Command, frame uint64) {
	for id := range f.files {
		if cmd.dropped(id, frame) {
			f.Erase(id)
		}
	}
}

func (f *FileStorage) IDs() []uint64 {
	ids := make([]uint64, 0, len(f.files))
	for id := range f.files {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
