package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// backupStampFormat is the timestamp key of a backup snapshot.
	backupStampFormat = "20060102T150405Z"

	// userBackupPrefix marks user-requested backups, which are exempt from
	// automated pruning.
	userBackupPrefix = "user_"

	// maxAutoBackups caps the automated backups kept per module; the oldest
	// are pruned first.
	maxAutoBackups = 10

	// manifestFile is the registered-command record inside each backup.
	manifestFile = "manifest.yaml"
)

// ErrUnknownBackup is returned by [Loader.Restore] for a timestamp with no
// backup snapshot.
var ErrUnknownBackup = errors.New("module: unknown backup")

// Backup copies the module's current source and its registered-command
// manifest into an immutable timestamped snapshot under the backup root.
// user marks snapshots taken on explicit user request, which are never
// pruned. It returns the snapshot's timestamp key.
func (l *Loader) Backup(moduleID string, user bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backupLocked(moduleID, user)
}

func (l *Loader) backupLocked(moduleID string, user bool) (string, error) {
	st, ok := l.modules[moduleID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}

	stamp := time.Now().UTC().Format(backupStampFormat)
	key := stamp
	if user {
		key = userBackupPrefix + stamp
	}
	dest := filepath.Join(l.backupRoot, moduleID, key)
	if err := os.MkdirAll(filepath.Join(dest, "source"), 0o755); err != nil {
		return "", fmt.Errorf("module: backup %q: %w", moduleID, err)
	}

	if err := copyTree(st.source, filepath.Join(dest, "source")); err != nil {
		return "", fmt.Errorf("module: backup %q: copy source: %w", moduleID, err)
	}

	m := Manifest{
		Module:    moduleID,
		Source:    st.source,
		Timestamp: key,
		Commands:  append([]string(nil), st.commands...),
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("module: backup %q: marshal manifest: %w", moduleID, err)
	}
	if err := os.WriteFile(filepath.Join(dest, manifestFile), data, 0o644); err != nil {
		return "", fmt.Errorf("module: backup %q: write manifest: %w", moduleID, err)
	}

	l.pruneBackups(moduleID)
	l.metrics.ModuleBackups.Add(context.Background(), 1)
	slog.Info("module backed up", "module", moduleID, "backup", key)
	return key, nil
}

// Restore reverts a module's source and registry state to the snapshot
// identified by timestamp: the backed-up source is copied over the live
// source location and the module is re-loaded from it, reproducing exactly
// the command set recorded in the snapshot's manifest. The snapshot is
// verified against its manifest before the live source is touched, so a
// tampered snapshot fails the restore without destroying anything.
func (l *Loader) Restore(moduleID, timestamp string) (*Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}

	snap := filepath.Join(l.backupRoot, moduleID, timestamp)
	if _, err := os.Stat(snap); err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownBackup, moduleID, timestamp)
	}

	data, err := os.ReadFile(filepath.Join(snap, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("module: restore %q: read manifest: %w", moduleID, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("module: restore %q: parse manifest: %w", moduleID, err)
	}

	snapDecl := filepath.Join(snap, "source", declarationFile)
	if st.fileSource {
		snapDecl = filepath.Join(snap, "source", filepath.Base(st.source))
	}
	if err := verifyManifest(snapDecl, &m); err != nil {
		return nil, fmt.Errorf("module: restore %q from %s: %w", moduleID, timestamp, err)
	}

	if st.fileSource {
		// The snapshot holds the single declaration file; put it back in
		// place without disturbing the surrounding directory.
		if err := copyFile(snapDecl, st.source, 0o644); err != nil {
			return nil, fmt.Errorf("module: restore %q: copy snapshot: %w", moduleID, err)
		}
	} else {
		if err := os.RemoveAll(st.source); err != nil {
			return nil, fmt.Errorf("module: restore %q: clear source: %w", moduleID, err)
		}
		if err := os.MkdirAll(st.source, 0o755); err != nil {
			return nil, fmt.Errorf("module: restore %q: %w", moduleID, err)
		}
		if err := copyTree(filepath.Join(snap, "source"), st.source); err != nil {
			return nil, fmt.Errorf("module: restore %q: copy snapshot: %w", moduleID, err)
		}
	}

	info, err := l.loadLocked(st.source)
	if err != nil {
		return nil, fmt.Errorf("module: restore %q: reload restored source: %w", moduleID, err)
	}

	slog.Info("module restored", "module", moduleID, "backup", timestamp)
	return info, nil
}

// verifyManifest checks that the snapshot's declaration still declares
// exactly the command set recorded in the manifest. A divergence means the
// snapshot was edited after it was taken.
func verifyManifest(declPath string, m *Manifest) error {
	data, err := os.ReadFile(declPath)
	if err != nil {
		return fmt.Errorf("read snapshot declaration: %w", err)
	}
	f, err := decodeFile(data)
	if err != nil {
		return fmt.Errorf("parse snapshot declaration: %w", err)
	}
	got := make([]string, 0, len(f.Commands))
	for _, c := range f.Commands {
		got = append(got, c.Name)
	}
	sort.Strings(got)
	want := append([]string(nil), m.Commands...)
	sort.Strings(want)
	if !equalStrings(got, want) {
		return fmt.Errorf("snapshot declares commands %v but its manifest records %v", got, want)
	}
	return nil
}

// Backups lists the module's snapshot timestamps, oldest first.
func (l *Loader) Backups(moduleID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.modules[moduleID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, moduleID)
	}
	entries, err := os.ReadDir(filepath.Join(l.backupRoot, moduleID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("module: list backups %q: %w", moduleID, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// pruneBackups deletes the oldest automated backups beyond the retention
// cap. User-requested backups are left alone.
func (l *Loader) pruneBackups(moduleID string) {
	dir := filepath.Join(l.backupRoot, moduleID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var auto []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), userBackupPrefix) {
			auto = append(auto, e.Name())
		}
	}
	sort.Strings(auto) // timestamp keys sort chronologically
	for len(auto) > maxAutoBackups {
		oldest := auto[0]
		auto = auto[1:]
		if err := os.RemoveAll(filepath.Join(dir, oldest)); err != nil {
			slog.Warn("failed to prune backup", "module", moduleID, "backup", oldest, "err", err)
			continue
		}
		slog.Debug("pruned old backup", "module", moduleID, "backup", oldest)
	}
}

// copyTree copies src (file or directory) into dst. dst must exist and be a
// directory; a file src is copied as dst/<basename>.
func copyTree(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return copyFile(src, filepath.Join(dst, filepath.Base(src)), fi.Mode())
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
