package storage

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// ErrConflict marks an insert that lost to an existing row. The write
// gateway retries task numbering on it; everything else surfaces as-is.
var ErrConflict = errors.New("storage: row already exists")

// IsConflict reports whether err is a uniqueness-constraint violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// classifyInsertErr translates the store's duplicate-row response into
// ErrConflict and leaves every other error untouched.
func classifyInsertErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.EntityAlreadyExists) {
		return fmt.Errorf("%w: %s", ErrConflict, respErr.ErrorCode)
	}
	return err
}
