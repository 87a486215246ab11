package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"nallo/api/internal/auth"
	"nallo/api/internal/graph"
	"nallo/api/internal/storage"
	"nallo/api/internal/store"
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidBody        = "INVALID_BODY"
	CodeConflict           = "CONFLICT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodePartialWrite       = "PARTIAL_WRITE"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Store names used in partial-write details.
const (
	storeGraph    = "graphdb"
	storePostgres = "postgresql"
	storeObjects  = "storage"
)

// AppError is an error the API knows how to present. Err keeps the cause
// for logging; it is never sent to the client.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func appError(status int, code, message string, details any) *AppError {
	return &AppError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *AppError {
	return appError(http.StatusNotFound, CodeNotFound, message, nil)
}

func validation(message string, details any) *AppError {
	return appError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func conflict(message string) *AppError {
	return appError(http.StatusConflict, CodeConflict, message, nil)
}

func unauthorized() *AppError {
	return appError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
}

func forbidden() *AppError {
	return appError(http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}

func unavailable(message string) *AppError {
	return appError(http.StatusServiceUnavailable, CodeStorageUnavailable, message, nil)
}

// PartialWriteDetails tells the caller which stores hold the write so the
// document can be reconciled by hand or by retrying.
type PartialWriteDetails struct {
	DocumentID string   `json:"documentId"`
	Completed  []string `json:"completed"`
	Failed     string   `json:"failed"`
}

func partialWrite(documentID string, completed []string, failed string, cause error) *AppError {
	e := appError(http.StatusInternalServerError, CodePartialWrite,
		fmt.Sprintf("Document %s was written to %v but not to %s", documentID, completed, failed),
		PartialWriteDetails{DocumentID: documentID, Completed: append([]string(nil), completed...), Failed: failed})
	e.Err = cause
	return e
}

// mapError turns any error into the status, code, message and details the
// client sees. Unknown errors collapse to a generic 500.
func mapError(err error) (status int, code, message string, details any) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status, appErr.Code, appErr.Message, appErr.Details
	}
	switch {
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, sql.ErrNoRows), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, graph.ErrDuplicate), errors.Is(err, store.ErrContentExists):
		return http.StatusConflict, CodeConflict, "Already exists", nil
	case errors.Is(err, graph.ErrInvalidRelation), errors.Is(err, graph.ErrInvalidKind):
		return http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	return http.StatusInternalServerError, CodeInternal, "Internal server error", nil
}
