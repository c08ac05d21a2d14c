package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

const (
	ManifestName    = "MANIFEST"
	manifestVersion = 1
)

// Manifest is the single source of truth for which segment files make up
// the corpus. Sealed ids are in creation order, which is also DocID order.
type Manifest struct {
	Version       int      `json:"version"`
	Active        uint64   `json:"active"`
	NextSegmentID uint64   `json:"next_segment_id"`
	Sealed        []uint64 `json:"sealed"`
	Checksum      uint32   `json:"checksum"`
}

// NewManifest describes an empty index whose first active segment is 1.
func NewManifest() *Manifest {
	return &Manifest{Version: manifestVersion, Active: 1, NextSegmentID: 2, Sealed: []uint64{}}
}

func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Sealed = append([]uint64(nil), m.Sealed...)
	return &c
}

func (m *Manifest) sum() (uint32, error) {
	c := *m
	c.Checksum = 0
	data, err := json.Marshal(c)
	if err != nil {
		return 0, err
	}
	return crc32.Checksum(data, castagnoli), nil
}

// LoadManifest reads dir/MANIFEST. A missing file yields a fresh manifest.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewManifest(), nil
	}
	if err != nil {
		return nil, apperrors.Fault("read manifest", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("manifest %s: unsupported version %d", path, m.Version)
	}
	sum, err := m.sum()
	if err != nil {
		return nil, err
	}
	if sum != m.Checksum {
		return nil, fmt.Errorf("manifest %s: checksum mismatch", path)
	}
	if m.Sealed == nil {
		m.Sealed = []uint64{}
	}
	return &m, nil
}

// Save atomically replaces dir/MANIFEST with m.
func (m *Manifest) Save(dir string, noSync bool) error {
	sum, err := m.sum()
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	m.Checksum = sum
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.Fault("write manifest", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return apperrors.Fault("write manifest", tmp, err)
	}
	if !noSync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return apperrors.Fault("sync manifest", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.Fault("close manifest", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.Fault("rename manifest", path, err)
	}
	if !noSync {
		if err := syncDir(dir); err != nil {
			return apperrors.Fault("sync index directory", dir, err)
		}
	}
	return nil
}

// Orphans lists files in dir that the manifest does not reference: segment
// files of unknown ids and leftover temporary files.
func Orphans(dir string, m *Manifest) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.Fault("list index directory", dir, err)
	}
	live := make(map[uint64]struct{}, len(m.Sealed))
	for _, id := range m.Sealed {
		live[id] = struct{}{}
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, tmpSuffix) && (strings.HasPrefix(name, "seg-") || name == ManifestName+tmpSuffix) {
			out = append(out, filepath.Join(dir, name))
			continue
		}
		if id, ok := ParseFileName(name); ok {
			if _, listed := live[id]; !listed {
				out = append(out, filepath.Join(dir, name))
			}
		}
	}
	return out, nil
}
