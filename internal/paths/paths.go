package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidID is returned when a job or backend task id fails validation.
	ErrInvalidID = errors.New("invalid id")
)

const maxIDLen = 64

var idRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,` + strconv.Itoa(maxIDLen) + `}$`)

// ValidateID returns nil for ids that are safe to embed in a URL path or a
// file name, or ErrInvalidID.
// Rules:
// - Only ASCII letters, digits, dot, underscore and dash.
// - Max length is 64.
// - No ".." substring.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", ErrInvalidID)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("id too long: %w", ErrInvalidID)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id contains disallowed '..': %w", ErrInvalidID)
	}
	if !idRe.MatchString(id) {
		return fmt.Errorf("id contains invalid characters: %w", ErrInvalidID)
	}
	return nil
}

// StateDir is the per-root directory holding config and the database.
func StateDir(root string) string {
	return filepath.Join(root, ".easel")
}

func DBPath(root string) string {
	return filepath.Join(StateDir(root), "easel.db")
}
