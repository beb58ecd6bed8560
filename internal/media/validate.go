package media

import (
	"errors"
	"strings"

	"github.com/h2non/filetype"
)

// MaxFileSize caps attachments at 10 MiB.
const MaxFileSize = 10 << 20

var (
	ErrFileTooLarge    = errors.New("file exceeds the maximum attachment size")
	ErrUnsupportedType = errors.New("unsupported attachment type")
	ErrEmptyFile       = errors.New("file is empty")
)

// Validate rejects oversized or unsupported files before any network call.
// Content is sniffed from the file header, not trusted from the declared
// MIME type.
func Validate(file File) error {
	if len(file.Data) == 0 {
		return ErrEmptyFile
	}
	if int64(len(file.Data)) > MaxFileSize {
		return ErrFileTooLarge
	}

	kind, err := filetype.Match(file.Data)
	if err != nil {
		return err
	}
	if kind != filetype.Unknown {
		switch {
		case filetype.IsImage(file.Data), filetype.IsVideo(file.Data), filetype.IsAudio(file.Data):
			return nil
		case kind.MIME.Value == "application/pdf":
			return nil
		}
		return ErrUnsupportedType
	}

	// Header sniffing cannot identify plain text; fall back to the declared type.
	if strings.HasPrefix(file.MimeType, "text/") {
		return nil
	}
	return ErrUnsupportedType
}
