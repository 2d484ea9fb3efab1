package stager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zip"
)

// extract unpacks the zip archive at path into a directory named after the
// archive, next to it. Existing files are overwritten. Entries can not
// escape the target directory.
func extract(path string) (string, error) {
	dest := strings.TrimSuffix(path, filepath.Ext(path))

	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", err
	}
	for _, f := range r.File {
		target, err := securejoin.SecureJoin(dest, f.Name)
		if err != nil {
			return "", err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return "", fmt.Errorf("cannot extract %s from %s: %w", f.Name, filepath.Base(path), err)
		}
	}
	return dest, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
