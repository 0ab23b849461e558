// Package mcp serves a vgrep index to AI clients over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
)

// MCP error codes. Negative values below -32000 are server defined.
const (
	ErrCodeIndexNotFound   = -32001
	ErrCodeEmbeddingFailed = -32002
	ErrCodeTimeout         = -32003
	ErrCodeIndexBusy       = -32004
	ErrCodeIncompatible    = -32005

	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a protocol-level error with a code clients can branch on.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError reports bad tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts an internal error for the client. Messages carry the
// error's suggestion so the client can act on it.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}
	if ve, ok := verrors.As(err); ok {
		return mapVgrepError(ve)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapVgrepError(ve *verrors.VgrepError) *MCPError {
	msg := ve.Message
	if ve.Suggestion != "" {
		msg = fmt.Sprintf("%s. %s", ve.Message, ve.Suggestion)
	}

	code := ErrCodeInternalError
	switch ve.Category {
	case verrors.CategoryInput:
		code = ErrCodeInvalidParams
	case verrors.CategoryCompatibility:
		code = ErrCodeIncompatible
	case verrors.CategoryConcurrency:
		code = ErrCodeIndexBusy
	case verrors.CategoryProvider:
		code = ErrCodeEmbeddingFailed
	case verrors.CategoryResource, verrors.CategoryConsistency:
		if ve.Code == verrors.ErrCodeNotIndexed || ve.Code == verrors.ErrCodeCorruptIndex {
			code = ErrCodeIndexNotFound
		}
	}
	return &MCPError{Code: code, Message: msg}
}
