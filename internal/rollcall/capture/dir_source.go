package capture

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// DirSource replays image files from a directory as frames, in name order,
// wrapping around at the end.
type DirSource struct {
	fs    afero.Fs
	dir   string
	files []string

	mu     sync.Mutex
	next   int
	passes int
}

// OpenDir lists dir once. A directory with no images is reported as an
// unavailable device, the same as a missing camera.
func OpenDir(fsys afero.Fs, dir string) (*DirSource, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrDeviceUnavailable, dir)
	}
	sort.Strings(files)

	return &DirSource{fs: fsys, dir: dir, files: files}, nil
}

func (s *DirSource) Name() string { return "images:" + s.dir }

func (s *DirSource) Frame() (image.Image, error) {
	s.mu.Lock()
	path := s.files[s.next]
	s.next++
	if s.next == len(s.files) {
		s.next = 0
		s.passes++
	}
	s.mu.Unlock()

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Passes reports how many times every file has been handed out.
func (s *DirSource) Passes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (s *DirSource) Len() int { return len(s.files) }

func (s *DirSource) Close() error { return nil }
