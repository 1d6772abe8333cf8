package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linux-automation/tacd-go/pkg/log"
)

const persistenceFormatVersion = 1

type persistenceFile struct {
	FormatVersion    uint64          `json:"format_version"`
	PersistentTopics map[string]any `json:"persistent_topics"`
}

// LoadPersisted reads path (if it exists) and applies every key found to the
// matching persistent topic by path. Extra keys with no matching topic are
// logged and otherwise ignored; a format_version mismatch is fatal, since it
// means the file was written by an incompatible, newer (or much older)
// build.
func LoadPersisted(path string, s *Sealed) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Infof("state file at %q does not yet exist, using defaults", path)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var pf persistenceFile
	if err := json.NewDecoder(f).Decode(&pf); err != nil {
		return fmt.Errorf("state file %q: %w", path, err)
	}

	if pf.FormatVersion != persistenceFormatVersion {
		return fmt.Errorf("state file %q: unknown format_version %d", path, pf.FormatVersion)
	}

	for _, t := range s.topics {
		if !t.Persistent() {
			continue
		}
		if value, ok := pf.PersistentTopics[t.Path()]; ok {
			if err := t.SetFromJSONValue(value); err != nil {
				log.Warnf("state file %q: topic %q: %s", path, t.Path(), err)
			}
			delete(pf.PersistentTopics, t.Path())
		}
	}

	if len(pf.PersistentTopics) > 0 {
		log.Warn("state file contained extra keys:")
		for k := range pf.PersistentTopics {
			log.Warnf(" - %s", k)
		}
	}

	return nil
}

// SavePersisted writes every persistent topic's current value to path,
// atomically: write to a ".tmp" sibling, fsync, then rename over the target
// so a crash never leaves a half-written state file. A duplicate persistent
// topic path is a fatal configuration error, not something to skip: it means
// two registrations collide on the same persisted key and whichever lost the
// race would silently go unpersisted.
func SavePersisted(path string, s *Sealed) error {
	content := make(map[string]any)

	for _, t := range s.topics {
		if !t.Persistent() {
			continue
		}
		value, ok := t.TryGetJSONValue()
		if !ok {
			continue
		}
		if _, dup := content[t.Path()]; dup {
			return fmt.Errorf("duplicate persistent topic: %q", t.Path())
		}
		content[t.Path()] = value
	}

	pf := persistenceFile{FormatVersion: persistenceFormatVersion, PersistentTopics: content}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"

	fd, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(fd)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pf); err != nil {
		fd.Close()
		return err
	}
	if err := fd.Sync(); err != nil {
		fd.Close()
		return err
	}
	if err := fd.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// RunPersistence loads path into every persistent topic, then blocks saving
// path again each time any persistent topic changes, until ctx is canceled.
// Intended to be run as its own task under internal/tasks.
func RunPersistence(ctx context.Context, path string, s *Sealed) error {
	if err := LoadPersisted(path, s); err != nil {
		return err
	}

	changed := make(chan EncodedMessage, 64)

	var handles []AnySubHandle
	for _, t := range s.topics {
		if !t.Persistent() {
			continue
		}
		h, err := t.SubscribeAsBytesErased(changed)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	defer func() {
		for _, h := range handles {
			h.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-changed:
			log.Infof("persistent topic %q has changed, saving to disk", msg.Path)
			if err := SavePersisted(path, s); err != nil {
				return err
			}
		}
	}
}
