// Package mcp implements the Model Context Protocol (MCP) server for ygrep.
package mcp

import (
	"context"
	"errors"
	"fmt"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// Custom MCP error codes for ygrep.
const (
	// ErrCodeIndexNotFound indicates the workspace has no usable index.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates query embedding failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a document is not in the index.
	ErrCodeFileNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	if ye, ok := yerrors.As(err); ok {
		return mapYgrepError(ye)
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

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeFileNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

// mapYgrepError maps by code first, then by category.
func mapYgrepError(ye *yerrors.YgrepError) *MCPError {
	message := ye.Message
	if ye.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ye.Message, ye.Suggestion)
	}

	switch ye.Code {
	case yerrors.ErrCodeNotIndexed, yerrors.ErrCodeSchemaMismatch, yerrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case yerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case yerrors.ErrCodeNotFound:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	}

	switch ye.Category {
	case yerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
