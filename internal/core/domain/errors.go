package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAppType   = errors.New("unknown app type")
	ErrProviderNotFound = errors.New("provider not found")
	ErrEmptyURL         = errors.New("empty endpoint url")
)

type ErrEndpointNotFound struct {
	URL string
}

func (e *ErrEndpointNotFound) Error() string {
	return fmt.Sprintf("endpoint not found: %s", e.URL)
}
