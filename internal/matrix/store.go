package matrix

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/signalsfoundry/linkprobe/model"
)

// Exists reports whether path exists. It has no side effects.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load parses whitespace or comma separated numeric rows. Rows are not
// required to have equal length.
func Load[T Number](path string) (m Matrix[T], err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	parse := parserFor[T]()
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.FieldsFunc(scanner.Text(), func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
		row := make([]T, 0, len(fields))
		for _, tok := range fields {
			v, perr := parse(tok)
			if perr != nil {
				return nil, fmt.Errorf("%w: %s:%d: %q: %v", ErrParse, path, line, tok, perr)
			}
			row = append(row, v)
		}
		m = append(m, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	return m, nil
}

// Save writes one row per line. Floating point values use three decimals;
// every column is right-aligned to width 8. The parent directory must exist.
func Save[T Number](m Matrix[T], path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrIO, path, cerr)
		}
	}()

	format := formatFor[T]()
	w := bufio.NewWriter(f)
	for _, row := range m {
		for j, v := range row {
			cell := fmt.Sprintf(format, v)
			// Values wider than the column would fuse with their neighbour.
			if j > 0 && cell[0] != ' ' {
				w.WriteByte(' ')
			}
			w.WriteString(cell)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

// InitRoutingMatrix writes the direct-routing default for n nodes: every
// destination is its own next hop and the diagonal is model.Self. Missing parent
// directories are created.
func InitRoutingMatrix(path string, n int) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %v", ErrIO, dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: unable to open %s: %v", ErrIO, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrIO, path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				w.WriteString(strconv.Itoa(model.Self))
			} else {
				w.WriteString(strconv.Itoa(j))
			}
			if j < n-1 {
				w.WriteByte(' ')
			}
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

// DirectRouting returns the in-memory equivalent of InitRoutingMatrix.
func DirectRouting(n int) Matrix[int] {
	m := New[int](n)
	for i := range m {
		for j := range m[i] {
			if i == j {
				m[i][j] = model.Self
			} else {
				m[i][j] = j
			}
		}
	}
	return m
}

func parserFor[T Number]() func(string) (T, error) {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return func(s string) (T, error) {
			v, err := strconv.ParseFloat(s, 64)
			return T(v), err
		}
	case uint, uint8, uint16, uint32, uint64, uintptr:
		return func(s string) (T, error) {
			v, err := strconv.ParseUint(s, 10, 64)
			return T(v), err
		}
	default:
		return func(s string) (T, error) {
			v, err := strconv.ParseInt(s, 10, 64)
			return T(v), err
		}
	}
}

func formatFor[T Number]() string {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return "%8.3f"
	default:
		return "%8d"
	}
}
