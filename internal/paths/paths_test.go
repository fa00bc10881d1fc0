package paths_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/throw-if-null/easel/internal/paths"
)

func TestValidateIDGood(t *testing.T) {
	good := []string{"1734567890123456", "a", "A0._-", "0b9f6a4e-3c1d-4f7a-9e2b-5d8c7a6b4f30"}
	for _, s := range good {
		if err := paths.ValidateID(s); err != nil {
			t.Fatalf("expected valid for %q, got %v", s, err)
		}
	}
}

func TestValidateIDBad(t *testing.T) {
	bad := []string{"", "a/b", "a\\b", "../x", "..", "1/../../admin", "a b", "id?x=1", "任务", "toolongtoolongtoolongtoolongtoolongtoolongtoolongtoolongtoolongtoolong"}
	for _, s := range bad {
		err := paths.ValidateID(s)
		if err == nil {
			t.Fatalf("expected invalid for %q", s)
		}
		if !errors.Is(err, paths.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID for %q, got %v", s, err)
		}
	}
}

func TestDBPath(t *testing.T) {
	if got := paths.DBPath("/srv/bot"); got != filepath.Join("/srv/bot", ".easel", "easel.db") {
		t.Fatalf("got %q", got)
	}
}
