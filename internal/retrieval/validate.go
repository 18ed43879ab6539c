package retrieval

import (
	"errors"
	"regexp"
	"strings"
)

// Validation errors returned by validateTaskID and validateFilePath,
// worded to match the façade's HTTP error envelope verbatim.
var (
	ErrInvalidTaskID   = errors.New("Invalid taskId format")
	ErrInvalidFilePath = errors.New("Invalid filePath format")
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validateTaskID(taskID string) error {
	if !taskIDPattern.MatchString(taskID) {
		return ErrInvalidTaskID
	}
	return nil
}

func validateFilePath(filePath string) error {
	if filePath == "" {
		return ErrInvalidFilePath
	}
	if strings.Contains(filePath, "..") || strings.Contains(filePath, "~") || strings.Contains(filePath, "\x00") {
		return ErrInvalidFilePath
	}
	if strings.HasPrefix(filePath, "/") {
		return ErrInvalidFilePath
	}
	return nil
}
