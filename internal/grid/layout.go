package grid

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxLayoutCells caps the size of a parsed layout so a corrupt header cannot
// allocate an unbounded grid.
const maxLayoutCells = 4 * 1024 * 1024

// maxHeaderLine bounds how much of a header line is kept for tokenizing.
const maxHeaderLine = 4096

// ParseLayout reads the plain-text layout format described in the package
// documentation. Short, missing or malformed row lines leave the rest of
// their row Empty; characters past the column count are ignored however long
// the line is. A missing header yields an empty 0x0 grid; a negative or
// non-numeric header is an ErrBadLayout.
func ParseLayout(r io.Reader) (*Grid, error) {
	br := bufio.NewReader(r)

	// The header may span lines, so collect tokens until both are seen.
	var header []string
	for len(header) < 2 {
		line, ok, err := readLine(br, maxHeaderLine)
		if err != nil {
			return nil, fmt.Errorf("read layout header: %w", err)
		}
		if !ok {
			break
		}
		header = append(header, strings.Fields(string(line))...)
	}
	if len(header) == 0 {
		return New(0, 0), nil
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header %q has no column count: %w", strings.Join(header, " "), ErrBadLayout)
	}

	rows, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("row count %q: %w", header[0], ErrBadLayout)
	}
	cols, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, fmt.Errorf("column count %q: %w", header[1], ErrBadLayout)
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("dimensions %dx%d: %w", rows, cols, ErrBadLayout)
	}
	if cols > 0 && rows > maxLayoutCells/cols {
		return nil, fmt.Errorf("dimensions %dx%d exceed %d cells: %w", rows, cols, maxLayoutCells, ErrBadLayout)
	}

	g := New(rows, cols)
	for i := 0; i < rows; i++ {
		line, ok, err := readLine(br, cols)
		if err != nil {
			return nil, fmt.Errorf("read layout row %d: %w", i, err)
		}
		if !ok {
			break
		}
		for j, b := range line {
			if b == '*' {
				g.Set(i, j, Wall)
			}
		}
	}
	return g, nil
}

// readLine returns at most the first keep bytes of the next line and
// discards the rest of it, including the newline. ok is false at end of
// input when no bytes were left.
func readLine(br *bufio.Reader, keep int) (line []byte, ok bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if len(chunk) > 0 {
			ok = true
		}
		if room := keep - len(line); room > 0 {
			line = append(line, chunk[:min(room, len(chunk))]...)
		}
		switch rerr {
		case nil:
			return trimEOL(line), true, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			return trimEOL(line), ok, nil
		default:
			return nil, false, rerr
		}
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// LoadLayoutFile opens path and parses it with ParseLayout.
func LoadLayoutFile(path string) (*Grid, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open layout: %w", err)
	}
	defer f.Close()

	g, err := ParseLayout(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout %s: %w", path, err)
	}
	return g, nil
}

// FormatLayout writes g in the layout format. Cars are written as empty
// cells since the format only records walls.
func FormatLayout(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", g.Rows(), g.Cols())
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			if g.At(r, c) == Wall {
				bw.WriteByte('*')
			} else {
				bw.WriteByte('.')
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
