package story

import "errors"

var (
	// ErrValidation: blank text, author or title. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition: archiving an empty log. Nothing was written.
	ErrPrecondition = errors.New("precondition failed")
	// ErrPersistence: the document store rejected a read or write.
	ErrPersistence = errors.New("persistence failed")
	// ErrNotFound: no archive or story record with that id.
	ErrNotFound = errors.New("not found")
)
