// Package files validates uploaded study materials and extracts their
// text content for AI grounding.
package files

import (
	"errors"
	"fmt"
	"strings"
)

// MaxFileSize is the upload size limit in bytes.
const MaxFileSize = 20 << 20

var (
	ErrFileTooLarge = fmt.Errorf("File size exceeds maximum limit of %dMB", MaxFileSize/(1024*1024))

	ErrUnsupportedType = errors.New("File type not supported. Supported types: PDF, Word (.doc, .docx), PowerPoint (.ppt, .pptx), Text (.txt, .html), Images (.jpg, .jpeg, .png, .gif)")
)

var allowedExtensions = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"ppt":  true,
	"pptx": true,
	"txt":  true,
	"html": true,
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
}

// FileType returns the lowercase extension of filename, or "unknown".
func FileType(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "unknown"
	}
	return strings.ToLower(filename[idx+1:])
}

// Validate checks the upload size and extension.
func Validate(filename string, size int64) error {
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if !allowedExtensions[FileType(filename)] {
		return ErrUnsupportedType
	}
	return nil
}

// ObjectKey builds the storage key for an uploaded file.
func ObjectKey(userID, chatID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", userID, chatID, filename)
}

// Preview shortens extracted content for display, preferring sentence
// or word boundaries near the limit.
func Preview(content string, maxLength int) string {
	if len(content) <= maxLength {
		return content
	}
	truncated := content[:maxLength]
	lastSentence := strings.LastIndex(truncated, ".")
	lastSpace := strings.LastIndex(truncated, " ")
	switch {
	case lastSentence > maxLength-50:
		return content[:lastSentence+1] + "..."
	case lastSpace > maxLength-20:
		return content[:lastSpace] + "..."
	default:
		return truncated + "..."
	}
}
