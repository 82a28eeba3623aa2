package ipsw

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Repack is used to write a copy of an IPSW archive with some members
// replaced, replacements maps archive member names to local file paths.
// Signing the result is an external step and is not performed here.
func Repack(src, dst string, replacements map[string]string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return errors.Wrap(err, "failed to open restore file")
	}
	defer func() { _ = reader.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640) // #nosec
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	writer := zip.NewWriter(out)
	for _, file := range reader.File {
		if path, ok := replacements[file.Name]; ok {
			err = repackReplaced(writer, file, path)
		} else {
			err = repackOriginal(writer, file)
		}
		if err != nil {
			_ = writer.Close()
			_ = out.Close()
			return err
		}
	}
	err = writer.Close()
	if err != nil {
		_ = out.Close()
		return errors.Wrap(err, "failed to finish output archive")
	}
	return out.Close()
}

func repackOriginal(writer *zip.Writer, file *zip.File) error {
	header := file.FileHeader
	w, err := writer.CreateHeader(&header)
	if err != nil {
		return errors.Wrapf(err, "failed to create archive member %s", file.Name)
	}
	rc, err := file.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open archive member %s", file.Name)
	}
	defer func() { _ = rc.Close() }()
	_, err = io.Copy(w, rc) // #nosec
	if err != nil {
		return errors.Wrapf(err, "failed to copy archive member %s", file.Name)
	}
	return nil
}

func repackReplaced(writer *zip.Writer, file *zip.File, path string) error {
	in, err := os.Open(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "failed to open replacement for %s", file.Name)
	}
	defer func() { _ = in.Close() }()
	header := &zip.FileHeader{
		Name:   file.Name,
		Method: file.Method,
	}
	w, err := writer.CreateHeader(header)
	if err != nil {
		return errors.Wrapf(err, "failed to create archive member %s", file.Name)
	}
	_, err = io.Copy(w, in)
	if err != nil {
		return errors.Wrapf(err, "failed to write replacement for %s", file.Name)
	}
	return nil
}
