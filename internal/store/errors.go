package store

// StorageError wraps any failure of the durable seen-set so callers can tell
// storage trouble apart from "not seen". The dedup engine must never treat one
// as either answer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
