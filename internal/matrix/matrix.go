// Package matrix persists the routing, throughput and PSR matrices as plain
// text tables.
package matrix

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

var (
	// ErrFileNotFound indicates the matrix file does not exist.
	ErrFileNotFound = errors.New("matrix file not found")
	// ErrIO indicates the matrix file could not be opened, read or written.
	ErrIO = errors.New("matrix i/o error")
	// ErrParse indicates a token that is not a number of the requested type.
	ErrParse = errors.New("matrix parse error")
	// ErrShape indicates a matrix whose dimensions differ from what the caller requires.
	ErrShape = errors.New("matrix shape mismatch")
)

// Number is any element type a matrix file can hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Matrix is a row-major 2D table. Rows loaded from disk may differ in length;
// use RequireSquare before indexing a matrix of unknown provenance.
type Matrix[T Number] [][]T

// New returns an n×n zero matrix.
func New[T Number](n int) Matrix[T] {
	m := make(Matrix[T], n)
	for i := range m {
		m[i] = make([]T, n)
	}
	return m
}

// Clone returns a deep copy.
func (m Matrix[T]) Clone() Matrix[T] {
	out := make(Matrix[T], len(m))
	for i, row := range m {
		out[i] = append([]T(nil), row...)
	}
	return out
}

// RequireSquare returns ErrShape unless m has exactly n rows of n columns.
func (m Matrix[T]) RequireSquare(n int) error {
	if len(m) != n {
		return fmt.Errorf("%w: %d rows, want %d", ErrShape, len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), n)
		}
	}
	return nil
}

// Equal reports whether both matrices have the same shape and elements.
func (m Matrix[T]) Equal(other Matrix[T]) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if len(m[i]) != len(other[i]) {
			return false
		}
		for j := range m[i] {
			if m[i][j] != other[i][j] {
				return false
			}
		}
	}
	return true
}
