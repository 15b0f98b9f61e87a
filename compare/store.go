package compare

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	// Extension of every image written by a Store
	Extension = ".png.zst"

	// Maximum decoded image size, protects against decompression bombs
	maxImageSize = 256 * 1024 * 1024
)

// ErrNotFound is returned when a store holds no image under a name
var ErrNotFound = errors.New("image not found")

// limitedReader wraps an io.Reader and limits the number of bytes that can be read
type limitedReader struct {
	reader io.Reader
	limit  int64
	read   int64
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if lr.read >= lr.limit {
		return 0, fmt.Errorf("size limit exceeded: %d bytes", lr.limit)
	}

	if int64(len(p)) > lr.limit-lr.read {
		p = p[:lr.limit-lr.read]
	}

	n, err := lr.reader.Read(p)
	lr.read += int64(n)
	return n, err
}

// Store keeps PNG images zstd compressed in a flat directory
type Store struct {
	dir string
}

// Entry describes one stored image
type Entry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Error  string `json:"error,omitempty"`
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory of the store
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid image name: %q", name)
	}
	return filepath.Join(s.dir, name+Extension), nil
}

// Exists reports whether an image is stored under name
func (s *Store) Exists(name string) bool {
	path, err := s.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Save compresses and writes png under name, replacing any previous image
func (s *Store) Save(name string, png []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	encoder, err := zstd.NewWriter(tmp)
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := encoder.Write(png); err != nil {
		_ = encoder.Close()
		_ = tmp.Close()
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	if err := encoder.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

// Load returns the decompressed PNG stored under name
func (s *Store) Load(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return readCompressed(path)
}

func readCompressed(path string) ([]byte, error) {
	//nolint:gosec // G304: names are validated by Store.path
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := io.ReadAll(&limitedReader{reader: decoder, limit: maxImageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return data, nil
}

// List returns every stored image sorted by name, hashing them concurrently
func (s *Store) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+Extension))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	entries := processConcurrently(matches)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// processConcurrently hashes stored images using a worker pool
func processConcurrently(paths []string) []Entry {
	if len(paths) == 0 {
		return []Entry{}
	}

	numWorkers := min(len(paths), min(runtime.NumCPU(), 8))

	jobChan := make(chan string, len(paths))
	resultChan := make(chan Entry, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(jobChan, resultChan)
		}()
	}

	for _, path := range paths {
		jobChan <- path
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var entries []Entry
	for entry := range resultChan {
		entries = append(entries, entry)
	}
	return entries
}

func worker(jobChan <-chan string, resultChan chan<- Entry) {
	for path := range jobChan {
		entry := Entry{Name: strings.TrimSuffix(filepath.Base(path), Extension)}

		data, err := readCompressed(path)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Size = int64(len(data))
			entry.SHA256 = HashBytes(data)
		}

		resultChan <- entry
	}
}

// HashBytes computes SHA256 hash of byte slice
func HashBytes(input []byte) string {
	hash := sha256.Sum256(input)
	return fmt.Sprintf("%x", hash)
}
