package handler

import (
	"strings"

	dErrors "gemma/pkg/domain-errors"
)

// ResolveTagRequest is the HTTP request body for POST /identify/tag.
type ResolveTagRequest struct {
	UID string `json:"uid"`
}

// Validate validates the request.
// Implements the Validator interface for httputil.DecodeAndPrepare.
func (r *ResolveTagRequest) Validate() error {
	if strings.TrimSpace(r.UID) == "" {
		return dErrors.New(dErrors.CodeValidation, "uid is required")
	}
	if len(r.UID) > 64 {
		return dErrors.New(dErrors.CodeValidation, "uid must be at most 64 characters")
	}
	return nil
}

// ResolveCodeRequest is the HTTP request body for POST /identify/code.
type ResolveCodeRequest struct {
	Code string `json:"code"`
}

// Validate validates the request.
func (r *ResolveCodeRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Code) > 256 {
		return dErrors.New(dErrors.CodeValidation, "code must be at most 256 characters")
	}
	return nil
}
