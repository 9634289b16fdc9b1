// Package datalogger buffers typed records and exports them as CSV, one
// column per exported struct field.
package datalogger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
)

// ErrClosed is returned when a closed logger is used.
var ErrClosed = errors.New("data logger closed")

// DataLogger collects records of type T for later export.
type DataLogger[T any] interface {
	LogRecord(record T)
	Export() error
	Close() error
}

// CSVDataLogger writes records of a struct type T. Column names come from
// the `Description` struct tag, falling back to the field name.
type CSVDataLogger[T any] struct {
	mu          sync.Mutex
	data        []T
	isOpen      bool
	destination io.WriteCloser
}

// CreateCSVDataLogger creates (or truncates) filename.
func CreateCSVDataLogger[T any](filename string) (*CSVDataLogger[T], error) {
	destination, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return NewCSVDataLogger[T](destination), nil
}

// NewCSVDataLogger wraps an already open destination.
func NewCSVDataLogger[T any](destination io.WriteCloser) *CSVDataLogger[T] {
	return &CSVDataLogger[T]{isOpen: true, destination: destination}
}

func (l *CSVDataLogger[T]) LogRecord(record T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = append(l.data, record)
}

// Len returns the number of buffered records.
func (l *CSVDataLogger[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// Export writes a header row followed by every buffered record.
func (l *CSVDataLogger[T]) Export() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isOpen {
		return ErrClosed
	}

	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return fmt.Errorf("export: record type %s is not a struct", typ)
	}
	var fields []reflect.StructField
	for _, f := range reflect.VisibleFields(typ) {
		if f.IsExported() && !f.Anonymous {
			fields = append(fields, f)
		}
	}

	w := csv.NewWriter(l.destination)
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
		if description, ok := f.Tag.Lookup("Description"); ok {
			header[i] = description
		}
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export header: %w", err)
	}

	row := make([]string, len(fields))
	for _, d := range l.data {
		v := reflect.ValueOf(d)
		for i, f := range fields {
			row[i] = fmt.Sprintf("%v", v.FieldByIndex(f.Index))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("export record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func (l *CSVDataLogger[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isOpen {
		return ErrClosed
	}
	l.isOpen = false
	return l.destination.Close()
}
