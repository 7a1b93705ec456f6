package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Sink offers a finished artifact to the user: an HTTP attachment, a file on
// disk, or anything else the host environment provides.
type Sink interface {
	Deliver(ctx context.Context, a Artifact) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, a Artifact) error

// Deliver calls f(ctx, a).
func (f SinkFunc) Deliver(ctx context.Context, a Artifact) error {
	return f(ctx, a)
}

// DeliveryError reports that the artifact was built but could not be handed over.
type DeliveryError struct {
	Filename string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %s failed: %v", e.Filename, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// DirSink writes artifacts into a directory.
type DirSink struct {
	Dir string

	// Overwrite allows replacing a file with the same name.
	Overwrite bool
}

// NewDirSink creates a sink writing into dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

// Deliver writes a.Data to Dir/a.Filename.
func (s *DirSink) Deliver(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Filename: a.Filename, Err: err}
	}

	name := filepath.Base(a.Filename)
	if name != a.Filename || name == "." || name == ".." {
		return &DeliveryError{Filename: a.Filename, Err: errors.New("filename must be a single path element")}
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return &DeliveryError{Filename: a.Filename, Err: err}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !s.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return &DeliveryError{Filename: a.Filename, Err: err}
	}
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		os.Remove(path)
		return &DeliveryError{Filename: a.Filename, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return &DeliveryError{Filename: a.Filename, Err: err}
	}
	return nil
}

// Path returns where an artifact with the given filename is written.
func (s *DirSink) Path(filename string) string {
	return filepath.Join(s.Dir, filepath.Base(filename))
}
