package formstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSchema is a schema or programming fault: an unsupported field
	// type, a duplicate field name, a value of the wrong type. Never retried.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrTransient marks a backend hiccup the caller may retry.
	ErrTransient = errors.New("transient storage fault")

	// ErrOverQuota marks a capacity or quota fault. Retrying won't help.
	ErrOverQuota = errors.New("storage quota exceeded")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// IsRetryable reports whether err is a transient storage fault.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) && !errors.Is(err, ErrOverQuota)
}

func IsOverQuota(err error) bool {
	return errors.Is(err, ErrOverQuota)
}

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Msg
	} else if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// StorageError describes a failed Datastore operation. Err carries the
// classification (ErrTransient, ErrOverQuota, ...) and the backend cause.
type StorageError struct {
	Op       string
	Relation *Relation
	URI      string
	Msg      string
	Err      error
}

func storageErrf(op string, rel *Relation, uri string, err error, format string, args ...any) error {
	return &StorageError{op, rel, uri, fmt.Sprintf(format, args...), err}
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	if e.Relation != nil {
		buf.WriteByte(' ')
		buf.WriteString(e.Relation.Name())
	}
	if e.URI != "" {
		buf.WriteByte('/')
		buf.WriteString(e.URI)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// ParseError is a fault parsing one external string value.
type ParseError struct {
	What  string
	Input string
	Err   error
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot parse %s %q: %v", e.What, e.Input, e.Err)
	}
	return fmt.Sprintf("cannot parse %s %q", e.What, e.Input)
}

// Classified wraps err so that it matches class (ErrTransient, ErrOverQuota,
// ...) via errors.Is while still unwrapping to the original cause. Storage
// adapters use it to report their faults.
func Classified(class, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, class) {
		return err
	}
	return &classifiedError{class, err}
}

type classifiedError struct {
	class error
	err   error
}

func (e *classifiedError) Error() string {
	return e.class.Error() + ": " + e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.class, e.err}
}
