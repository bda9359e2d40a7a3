package validator

import "testing"

type keyStageRequest struct {
	PipelineID int64 `validate:"required,gt=0"`
	StatusID   int64 `validate:"required,gt=0"`
}

func TestFieldErrors(t *testing.T) {
	v := New()
	err := v.Struct(keyStageRequest{PipelineID: 10})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	fields := FieldErrors(err)
	if fields["statusID"] != "required" {
		t.Fatalf("expected statusID=required, got %v", fields)
	}
	if _, ok := fields["pipelineID"]; ok {
		t.Fatalf("pipelineID should be valid, got %v", fields)
	}
}

func TestFieldErrorsIgnoresOtherErrors(t *testing.T) {
	if FieldErrors(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
