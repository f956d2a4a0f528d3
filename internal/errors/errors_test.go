package errors

import (
	"fmt"
	"io/fs"
	"testing"
)

func TestStorageError_Is(t *testing.T) {
	err := NewStorageError("rename", "/data/2024/01/15.tmp", fs.ErrPermission)

	if !IsStorage(err) {
		t.Error("expected IsStorage to match")
	}
	if !Is(err, fs.ErrPermission) {
		t.Error("expected the cause to be reachable through Unwrap")
	}

	var se *StorageError
	if !As(fmt.Errorf("outer: %w", err), &se) {
		t.Fatal("expected As to find *StorageError")
	}
	if se.Op != "rename" || se.Path != "/data/2024/01/15.tmp" {
		t.Errorf("unexpected fields: %+v", se)
	}
}

func TestNilConstructors(t *testing.T) {
	if NewStorageError("open", "x", nil) != nil {
		t.Error("NewStorageError(nil) should be nil")
	}
	if NewCloseError("x", nil) != nil {
		t.Error("NewCloseError(nil) should be nil")
	}
	if NewCleanup("remove", "x", nil) != nil {
		t.Error("NewCleanup(nil) should be nil")
	}
}

func TestCleanupIsAlsoStorage(t *testing.T) {
	err := NewCleanup("remove day dir", "/data/2024/01/15", fs.ErrExist)

	if !IsCleanup(err) {
		t.Error("expected IsCleanup")
	}
	if !IsStorage(err) {
		t.Error("expected IsStorage")
	}
	if IsInvalidRecord(err) {
		t.Error("cleanup error must not be an invalid record")
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		validation bool
	}{
		{"bucket not found", NewBucketNotFound("cpu"), true, false},
		{"invalid record", NewInvalidRecord("no timestamp"), false, true},
		{"validation", NewValidation("granularity", "must divide a day"), false, true},
		{"missing field", NewMissingField("name"), false, true},
		{"close", NewCloseError("x", fs.ErrClosed), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation = %v, want %v", got, tt.validation)
			}
		})
	}
}
