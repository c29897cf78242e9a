package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the deal against its struct tags. Extraction already
// filters junk candidates; this is the last gate before a deal enters the
// notification pipeline.
func (d Deal) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid deal %q: %w", d.Title, err)
	}
	return nil
}
