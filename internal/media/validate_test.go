package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func TestValidateAcceptsImage(t *testing.T) {
	require.NoError(t, Validate(File{Name: "p.png", MimeType: "image/png", Data: pngHeader}))
}

func TestValidateAcceptsDeclaredText(t *testing.T) {
	require.NoError(t, Validate(File{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hello")}))
}

func TestValidateRejectsEmpty(t *testing.T) {
	require.ErrorIs(t, Validate(File{Name: "x"}), ErrEmptyFile)
}

func TestValidateRejectsOversized(t *testing.T) {
	data := make([]byte, MaxFileSize+1)
	copy(data, pngHeader)
	require.ErrorIs(t, Validate(File{Name: "big.png", Data: data}), ErrFileTooLarge)
}

func TestValidateRejectsUnknownBinary(t *testing.T) {
	require.ErrorIs(t, Validate(File{Name: "x.bin", MimeType: "application/octet-stream", Data: []byte{0x00, 0x01, 0x02}}), ErrUnsupportedType)
}
