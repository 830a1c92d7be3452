package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"

	"github.com/andreyvit/formstore"
)

var errUndefinedTable = errors.New("undefined table")

// classify maps driver faults onto the formstore error taxonomy by SQLSTATE.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return formstore.Classified(formstore.ErrTransient, err)
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch code := pqErr.Code; {
	case code == "23505":
		return formstore.Classified(formstore.ErrAlreadyExists, err)
	case code == "42P01":
		return formstore.Classified(errUndefinedTable, err)
	case code == "53300", code.Class() == "08", code.Class() == "40", code == "57P01", code == "57P02", code == "57P03":
		return formstore.Classified(formstore.ErrTransient, err)
	case code == "53100", code == "53200", code.Class() == "54":
		return formstore.Classified(formstore.ErrOverQuota, err)
	default:
		return err
	}
}
