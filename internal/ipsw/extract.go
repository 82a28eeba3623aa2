package ipsw

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ExtractKernelcache is used to pull the kernelcache member out of an
// IPSW archive into dir, it returns the extracted file path.
func ExtractKernelcache(src, dir string) (string, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return "", errors.Wrap(err, "failed to open restore file")
	}
	defer func() { _ = reader.Close() }()
	for _, file := range reader.File {
		name := filepath.Base(file.Name)
		if !strings.HasPrefix(name, "kernelcache") {
			continue
		}
		err = os.MkdirAll(dir, 0750)
		if err != nil {
			return "", errors.Wrap(err, "failed to create extract directory")
		}
		dst := filepath.Join(dir, name)
		err = extractFile(file, dst)
		if err != nil {
			return "", err
		}
		return dst, nil
	}
	return "", errors.New("restore file contains no kernelcache")
}

// VerifyArchive is used to check a restore file opens as a zip
// archive and contains the named member.
func VerifyArchive(src, member string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return errors.Wrap(err, "failed to open restore file")
	}
	defer func() { _ = reader.Close() }()
	for _, file := range reader.File {
		if file.Name == member {
			return nil
		}
	}
	return errors.Errorf("restore file contains no %s", member)
}

func extractFile(file *zip.File, dst string) error {
	rc, err := file.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open archive member %s", file.Name)
	}
	defer func() { _ = rc.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640) // #nosec
	if err != nil {
		return errors.Wrap(err, "failed to create extracted file")
	}
	_, err = io.Copy(out, rc) // #nosec
	if err != nil {
		_ = out.Close()
		return errors.Wrap(err, "failed to extract kernelcache")
	}
	return out.Close()
}
