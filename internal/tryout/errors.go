package tryout

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound     = errors.New("tryout not found")
	ErrTemplateInvalid      = errors.New("tryout questions are inconsistent")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrForbidden            = errors.New("attempt forbidden")
	ErrInvalidState         = errors.New("attempt is not ongoing")
	ErrExpired              = errors.New("attempt time is up")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrInvalidQuestion      = errors.New("question not in attempt")
	ErrInvalidChoice        = errors.New("invalid choice")
)

var domainErrors = []error{
	ErrTemplateNotFound,
	ErrTemplateInvalid,
	ErrAttemptNotFound,
	ErrForbidden,
	ErrInvalidState,
	ErrExpired,
	ErrAttemptLimitExceeded,
	ErrAlreadySubmitted,
	ErrInvalidQuestion,
	ErrInvalidChoice,
}

// StorageError marks a failed transaction or query. Nothing was committed,
// so the caller may retry the whole operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a StorageError.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
