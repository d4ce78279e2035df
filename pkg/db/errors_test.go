package db

import (
	"errors"
	"testing"
)

func TestIsUniqueViolation(t *testing.T) {
	pg := errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_email" (SQLSTATE 23505)`)
	sqlite := errors.New("UNIQUE constraint failed: users.email")

	if !IsUniqueViolation(pg, "") {
		t.Fatalf("expected postgres duplicate key error to match")
	}
	if !IsUniqueViolation(sqlite, "") {
		t.Fatalf("expected sqlite unique constraint error to match")
	}
	if !IsUniqueViolation(pg, "idx_users_email") {
		t.Fatalf("expected named constraint to match")
	}
	if IsUniqueViolation(pg, "idx_other") {
		t.Fatalf("expected mismatched constraint name to be rejected")
	}
	if IsUniqueViolation(errors.New("connection refused"), "") {
		t.Fatalf("expected unrelated error to be rejected")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatalf("expected nil error to be rejected")
	}
}
