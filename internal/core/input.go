package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	// ErrFileTooLarge is returned when the input exceeds the configured size.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyFile is returned when the input holds no header row.
	ErrEmptyFile = errors.New("empty file")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readInput reads the whole input, refusing anything above maxSize bytes.
// A run holds every document in memory anyway, so the input is read once up
// front and the parsers work on the bytes.
func readInput(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return nil, ErrEmptyFile
	}

	limited := r
	if maxSize > 0 {
		limited = io.LimitReader(r, maxSize+1)
	}

	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: input exceeds %d bytes", ErrFileTooLarge, maxSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	return data, nil
}

// cleanText strips a UTF-8 byte-order mark and replaces invalid UTF-8
// sequences with the Unicode replacement character.
func cleanText(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	return bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))
}
