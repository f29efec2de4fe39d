package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Filesystem magic numbers from statfs(2) that matter for SQLite locking.
const (
	magicNFS   = 0x6969
	magicCIFS  = 0xFF534D42
	magicSMB   = 0x517B
	magicSMB2  = 0xFE534D42
	magicFUSE  = 0x65735546
	magicTmpfs = 0x01021994
	magicExt4  = 0xEF53
	magicXFS   = 0x58465342
	magicBtrfs = 0x9123683E
)

var fsNames = map[int64]string{
	magicNFS:   "nfs",
	magicCIFS:  "cifs",
	magicSMB:   "smbfs",
	magicSMB2:  "smb2",
	magicFUSE:  "fuse",
	magicTmpfs: "tmpfs",
	magicExt4:  "ext4",
	magicXFS:   "xfs",
	magicBtrfs: "btrfs",
}

// remote filesystems break flock and fsync guarantees SQLite relies on.
// FUSE is refused too since sshfs and friends are the common case.
var remote = map[string]bool{
	"nfs":   true,
	"cifs":  true,
	"smbfs": true,
	"smb2":  true,
	"fuse":  true,
}

// CheckPath reports whether path is usable for the state database without
// opening it. The database file need not exist yet; its nearest existing
// parent is inspected instead.
func CheckPath(path string) error {
	return checkPathWith(path, statfsType)
}

func checkPathWith(path string, detect func(string) (string, error)) error {
	if path == "" {
		return errors.New("state path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve state path %q: %w", path, err)
	}

	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if remote[fsType] {
		return fmt.Errorf("state path %q is on %s; the set store needs a local filesystem for locking, set state.path to local disk", path, fsType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		p = parent
	}
}

func statfsType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	if name, ok := fsNames[int64(st.Type)]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", uint64(st.Type)), nil
}
