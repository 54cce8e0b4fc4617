// Copyright 2026 The Sshfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dcache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/andy0130tw/sshfs/pkg/sftp"
)

// ImageVersion is the persisted image format this build reads and writes.
// Any other version on disk is discarded wholesale at load time.
const ImageVersion = 2

// ErrIncompatibleImage marks a persisted image whose header disagrees with
// this build. It never travels past the load boundary: callers recover by
// starting with an empty cache.
var ErrIncompatibleImage = errors.New("dcache: incompatible cache image")

// Meta is the self-describing header written at the front of an image.
type Meta struct {
	Version      uint32
	AttrBlobSize uint32
	CreatedAt    uint64
	// Note is free-form diagnostic text. Nothing is decided based on it.
	Note string
}

// Save writes the whole cache as a persisted image: the header, then one
// record per entry.
func (c *Cache) Save(w io.Writer, note string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := sftp.NewMarshaler(4096)
	m.Uint32(ImageVersion)
	m.Uint32(sftp.AttrBlobSize)
	m.Uint64(uint64(time.Now().Unix()))
	m.String(note)

	m.Uint32(uint32(c.tree.Len()))
	c.walk(func(path string, e Entry) {
		m.String(path)
		m.Byte(uint8(e.Kind))
		switch e.Kind {
		case KindStat:
			blob := e.Attr.MarshalBlob()
			m.Raw(blob[:])
		case KindLink:
			m.String(e.Target)
		case KindDir:
			m.Uint32(uint32(len(e.Children)))
			for _, name := range e.Children {
				m.String(name)
			}
		}
	})

	if _, err := w.Write(m.Payload()); err != nil {
		return fmt.Errorf("dcache: write image: %w", err)
	}
	return nil
}

// Load replaces the cache contents with a persisted image. The header is
// validated before any entry is trusted: a version or blob-size mismatch
// returns ErrIncompatibleImage and leaves the cache untouched — the image is
// never partially applied.
func (c *Cache) Load(r io.Reader) (Meta, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Meta{}, fmt.Errorf("dcache: read image: %w", err)
	}

	u := sftp.NewUnmarshaler(raw)
	meta := Meta{
		Version:      u.Uint32(),
		AttrBlobSize: u.Uint32(),
		CreatedAt:    u.Uint64(),
		Note:         u.String(),
	}
	if err := u.Err(); err != nil {
		return meta, fmt.Errorf("dcache: truncated image header: %w", err)
	}
	if meta.Version != ImageVersion || meta.AttrBlobSize != sftp.AttrBlobSize {
		return meta, fmt.Errorf("%w: image version %d blob %d, build expects %d/%d",
			ErrIncompatibleImage, meta.Version, meta.AttrBlobSize, ImageVersion, sftp.AttrBlobSize)
	}

	count := u.Uint32()
	type record struct {
		path  string
		entry Entry
	}
	records := make([]record, 0, count)
	for i := uint32(0); i < count; i++ {
		path := u.String()
		kind := Kind(u.Byte())
		var e Entry
		e.Kind = kind
		switch kind {
		case KindStat:
			var blob [sftp.AttrBlobSize]byte
			raw := u.Rest()
			if len(raw) < sftp.AttrBlobSize {
				return meta, fmt.Errorf("dcache: truncated stat record for %q", path)
			}
			copy(blob[:], raw[:sftp.AttrBlobSize])
			u = sftp.NewUnmarshaler(raw[sftp.AttrBlobSize:])
			e.Attr.UnmarshalBlob(blob)
		case KindLink:
			e.Target = u.String()
		case KindDir:
			n := u.Uint32()
			e.Children = make([]string, 0, n)
			for j := uint32(0); j < n; j++ {
				e.Children = append(e.Children, u.String())
			}
		default:
			return meta, fmt.Errorf("dcache: unknown entry kind %d for %q", kind, path)
		}
		if err := u.Err(); err != nil {
			return meta, fmt.Errorf("dcache: truncated record for %q: %w", path, err)
		}
		records = append(records, record{path: path, entry: e})
	}

	c.Clear()
	for _, rec := range records {
		c.put(rec.path, rec.entry)
	}
	return meta, nil
}

// SaveFile persists the cache atomically: the image is written to a
// temporary file and renamed into place.
func (c *Cache) SaveFile(path, note string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("dcache: create image file: %w", err)
	}
	if err := c.Save(f, note); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dcache: close image file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("dcache: rename image file: %w", err)
	}
	return nil
}

// LoadFile populates the cache from a persisted image if one is present and
// compatible. A missing file, a truncated image, or a header mismatch all
// resolve to an empty cache; none of them is an error for the caller. This
// is behaviorally identical to never having persisted at all.
func (c *Cache) LoadFile(path string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cache image unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return
	}
	defer f.Close()

	meta, err := c.Load(f)
	if err != nil {
		c.Clear()
		if errors.Is(err, ErrIncompatibleImage) {
			logger.Info("discarding incompatible cache image",
				zap.String("path", path),
				zap.Uint32("image_version", meta.Version),
				zap.Uint32("build_version", ImageVersion))
		} else {
			logger.Warn("discarding corrupt cache image", zap.String("path", path), zap.Error(err))
		}
		return
	}
	logger.Info("cache image loaded",
		zap.String("path", path),
		zap.Int("entries", c.Len()),
		zap.String("note", meta.Note))
}
