package vfs

import (
	"bytes"
	"io"
	"os"
	"path"
	"sync"
	"time"
)

// MemFS is an in-memory FS implementation, used by tests that would
// otherwise need a real disk (FluidOptions round-trips, the reference
// storage engine's SST writes).
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

// NewMemFS returns an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memFile)}
}

type memFile struct {
	data []byte
	mode os.FileMode
}

func (fs *MemFS) Create(name string) (WritableFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := &memFile{}
	fs.files[name] = f
	return &memWritableFile{fs: fs, name: name}, nil
}

func (fs *MemFS) Open(name string) (SequentialFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &memSequentialFile{r: bytes.NewReader(append([]byte(nil), f.data...))}, nil
}

func (fs *MemFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &memRandomAccessFile{data: append([]byte(nil), f.data...)}, nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[oldname]
	if !ok {
		return os.ErrNotExist
	}
	fs.files[newname] = f
	delete(fs.files, oldname)
	return nil
}

func (fs *MemFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return os.ErrNotExist
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) RemoveAll(prefix string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for name := range fs.files {
		if name == prefix || (len(name) > len(prefix) && name[:len(prefix)+1] == prefix+"/") {
			delete(fs.files, name)
		}
	}
	return nil
}

func (fs *MemFS) MkdirAll(string, os.FileMode) error { return nil }

func (fs *MemFS) Stat(name string) (os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return memFileInfo{name: path.Base(name), size: int64(len(f.data))}, nil
}

func (fs *MemFS) Exists(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[name]
	return ok
}

func (fs *MemFS) ListDir(dir string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var names []string
	for name := range fs.files {
		if path.Dir(name) == dir {
			names = append(names, path.Base(name))
		}
	}
	return names, nil
}

func (fs *MemFS) Lock(string) (io.Closer, error) {
	return io.NopCloser(nil), nil
}

func (fs *MemFS) SyncDir(string) error { return nil }

type memFileInfo struct {
	name string
	size int64
}

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() os.FileMode  { return 0644 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }

type memWritableFile struct {
	fs   *MemFS
	name string
}

func (wf *memWritableFile) Write(p []byte) (int, error) {
	wf.fs.mu.Lock()
	defer wf.fs.mu.Unlock()
	f := wf.fs.files[wf.name]
	f.data = append(f.data, p...)
	return len(p), nil
}

func (wf *memWritableFile) Close() error { return nil }
func (wf *memWritableFile) Sync() error  { return nil }

func (wf *memWritableFile) Append(data []byte) error {
	_, err := wf.Write(data)
	return err
}

func (wf *memWritableFile) Truncate(size int64) error {
	wf.fs.mu.Lock()
	defer wf.fs.mu.Unlock()
	f := wf.fs.files[wf.name]
	if int64(len(f.data)) > size {
		f.data = f.data[:size]
	}
	return nil
}

func (wf *memWritableFile) Size() (int64, error) {
	wf.fs.mu.Lock()
	defer wf.fs.mu.Unlock()
	return int64(len(wf.fs.files[wf.name].data)), nil
}

type memSequentialFile struct {
	r *bytes.Reader
}

func (sf *memSequentialFile) Read(p []byte) (int, error) { return sf.r.Read(p) }
func (sf *memSequentialFile) Close() error                { return nil }
func (sf *memSequentialFile) Skip(n int64) error {
	_, err := sf.r.Seek(n, io.SeekCurrent)
	return err
}

type memRandomAccessFile struct {
	data []byte
}

func (rf *memRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(rf.data)) {
		return 0, io.EOF
	}
	n := copy(p, rf.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (rf *memRandomAccessFile) Close() error { return nil }
func (rf *memRandomAccessFile) Size() int64  { return int64(len(rf.data)) }
