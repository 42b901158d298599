package jobs

import (
	"errors"
	"fmt"
)

// Error classes returned by the orchestrators.
var (
	ErrBadRequest          = errors.New("bad request")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrForbidden           = errors.New("document belongs to another user")
	ErrNotFound            = errors.New("document not found")
)

// Validation failures. Each one matches ErrBadRequest.
var (
	ErrInvalidCost        = fmt.Errorf("%w: token must be a positive number", ErrBadRequest)
	ErrMissingInput       = fmt.Errorf("%w: prompt and image_urls are required", ErrBadRequest)
	ErrInvalidImageURLs   = fmt.Errorf("%w: image_urls must all be strings", ErrBadRequest)
	ErrMissingRequestID   = fmt.Errorf("%w: requestId is required", ErrBadRequest)
	ErrMissingDocumentID  = fmt.Errorf("%w: documentId is required", ErrBadRequest)
	ErrMissingServiceURL  = fmt.Errorf("%w: serviceUrl is required", ErrBadRequest)
	ErrInvalidCreditDelta = fmt.Errorf("%w: amount must be a positive number", ErrBadRequest)
)
