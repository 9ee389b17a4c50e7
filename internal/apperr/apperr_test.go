package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ServiceErrorKind
	}{
		{429, KindRateLimited},
		{500, KindUnavailable},
		{503, KindUnavailable},
		{404, KindGeneric},
		{400, KindGeneric},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestExternalServiceError_Is(t *testing.T) {
	err := fmt.Errorf("search: %w", &ExternalServiceError{Kind: KindRateLimited, StatusCode: 429, Op: "search"})
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected errors.Is(ErrRateLimited)")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("rate limited error should not match ErrUnavailable")
	}
}

func TestStorage_WrapsOnce(t *testing.T) {
	if Storage("noop", nil) != nil {
		t.Fatal("nil error should pass through")
	}
	base := errors.New("conn refused")
	err := Storage("insert prices", Storage("copy", base))
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("expected StorageError")
	}
	if se.Op != "copy" {
		t.Errorf("Op = %q, want inner op preserved", se.Op)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped base error")
	}
}

func TestNotFoundError_Is(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", &NotFoundError{Resource: "hospital", ID: "42"})
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(ErrNotFound)")
	}
}
