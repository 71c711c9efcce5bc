package core

// decode.go turns an uploaded file into delimited UTF-8 text.
//
// Uploads are sniffed by magic bytes, not by file name: call-platform
// exports are often renamed or re-compressed by whoever forwards them.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxFileSize bounds decoded upload size (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

var (
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyFile         = errors.New("empty file")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Format is the container an upload arrived in.
type Format string

const (
	FormatText Format = "text"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
	FormatXZ   Format = "xz"
	FormatXLSX Format = "xlsx"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXZ   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZip  = []byte{'P', 'K', 0x03, 0x04}
)

// DetectFormat identifies the container from the first bytes of a file.
func DetectFormat(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip
	case bytes.HasPrefix(head, magicZstd):
		return FormatZstd
	case bytes.HasPrefix(head, magicXZ):
		return FormatXZ
	case bytes.HasPrefix(head, magicZip):
		return FormatXLSX
	}
	return FormatText
}

// ReadUpload reads r to EOF and returns its contents as UTF-8 delimited
// text. Compressed input is decompressed and workbooks are flattened to
// CSV from their first sheet. maxSize bounds the decoded size; zero or
// negative selects DefaultMaxFileSize.
func ReadUpload(r io.Reader, maxSize int64) (string, Format, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(magicXZ))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", FormatText, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return "", FormatText, ErrEmptyFile
	}

	format := DetectFormat(head)
	var src io.Reader = br

	switch format {
	case FormatGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return "", format, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		src = gz

	case FormatZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			return "", format, fmt.Errorf("open zstd: %w", err)
		}
		defer dec.Close()
		src = dec

	case FormatXZ:
		xr, err := xz.NewReader(br)
		if err != nil {
			return "", format, fmt.Errorf("open xz: %w", err)
		}
		src = xr

	case FormatXLSX:
		text, err := readWorkbook(br, maxSize)
		return text, format, err
	}

	text, err := readLimited(NewTextDecoder(src), maxSize)
	if err != nil {
		return "", format, err
	}
	if strings.TrimSpace(text) == "" {
		return "", format, ErrEmptyFile
	}
	return text, format, nil
}

func readLimited(r io.Reader, maxSize int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxSize)
	}
	return string(data), nil
}

// readWorkbook renders the first sheet of an xlsx workbook as CSV.
func readWorkbook(r io.Reader, maxSize int64) (string, error) {
	raw, err := readLimited(r, maxSize)
	if err != nil {
		return "", err
	}

	// The zip parts are inflated under the same cap as every other format;
	// sheets larger than a stream chunk spill to temp files.
	f, err := excelize.OpenReader(strings.NewReader(raw), excelize.Options{
		UnzipSizeLimit:    maxSize,
		UnzipXMLSizeLimit: min(maxSize, int64(excelize.StreamChunkSize)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "unzip size") {
			return "", fmt.Errorf("%w: workbook unzips past %d bytes", ErrFileTooLarge, maxSize)
		}
		return "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return "", ErrEmptyFile
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("render sheet: %w", err)
	}
	if int64(b.Len()) > maxSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxSize)
	}
	return b.String(), nil
}
