// Package archive splits an uploaded template bundle into its document entries and
// metadata manifest. A bundle is a zip archive containing legacy Word template files
// (.dot, .doc, .docb, .docx) alongside exactly one CSV manifest describing them.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrMissingManifest is returned when the archive contains no CSV manifest.
var ErrMissingManifest = errors.New("archive contains no manifest file")

// maxEntryBytes caps the number of bytes copied from any single archive entry
// to prevent decompression bomb attacks.
const maxEntryBytes = 200 << 20 // 200 MB

// documentSuffixes are the recognised template document extensions.
var documentSuffixes = []string{".dot", ".doc", ".docb", ".docx"}

const manifestSuffix = ".csv"

// Entry is one named file extracted from the bundle.
type Entry struct {
	Name string
	Data []byte
}

// Bundle is the result of unpacking an archive: the document entries plus the
// single manifest entry.
type Bundle struct {
	Documents []Entry
	Manifest  Entry
}

// Unpack reads the archive bytes and classifies entries by extension. Directory
// entries are skipped. Zero document entries is legal (a manifest-only upload);
// zero manifest entries is ErrMissingManifest. When the archive carries more
// than one manifest the first is used.
func Unpack(data []byte) (*Bundle, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	bundle := &Bundle{}
	haveManifest := false

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		name := path.Base(file.Name)
		lower := strings.ToLower(name)

		switch {
		case isDocument(lower):
			content, err := readEntry(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read archive entry %s: %w", file.Name, err)
			}
			bundle.Documents = append(bundle.Documents, Entry{Name: name, Data: content})

		case strings.HasSuffix(lower, manifestSuffix):
			if haveManifest {
				continue
			}
			content, err := readEntry(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read archive entry %s: %w", file.Name, err)
			}
			bundle.Manifest = Entry{Name: name, Data: content}
			haveManifest = true
		}
	}

	if !haveManifest {
		return nil, ErrMissingManifest
	}

	return bundle, nil
}

func isDocument(lowerName string) bool {
	for _, suffix := range documentSuffixes {
		if strings.HasSuffix(lowerName, suffix) {
			return true
		}
	}
	return false
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, maxEntryBytes)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
