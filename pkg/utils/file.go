package utils

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// IsExecutable reports whether path is a regular file with an execute bit set.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// IsReadable reports whether path can be opened for reading.
func IsReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// CopyFile copies src to dst, keeping the permission bits of src.
func CopyFile(src, dst string) error {
	eb := oops.With("src", src, "dst", dst)

	in, err := os.Open(src)
	if err != nil {
		return eb.Wrapf(err, "file open error")
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return eb.Wrapf(err, "file info error")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return eb.Wrapf(err, "file create error")
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return eb.Wrapf(err, "file copy error")
	}
	if err = out.Close(); err != nil {
		return eb.Wrapf(err, "file close error")
	}
	return nil
}

// CopyDir recursively copies the tree rooted at src to dst.
func CopyDir(src, dst string) error {
	eb := oops.With("src", src, "dst", dst)

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return eb.With("path", path).Wrapf(err, "walk dir error")
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return eb.With("path", path).Wrapf(err, "rel path error")
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return eb.With("path", path).Wrapf(err, "file info error")
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return CopyFile(path, target)
	})
	if err != nil {
		return eb.Wrapf(err, "dir copy error")
	}
	return nil
}
