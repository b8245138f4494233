// Package psd inspects the fixed-size file header of a layered image
// document. Layer and image data are not decoded here.
package psd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// Signature is the four-byte magic every PSD/PSB file starts with.
const Signature = "8BPS"

// HeaderSize is the length of the fixed file header in bytes.
const HeaderSize = 26

// Format versions.
const (
	VersionPSD = 1
	VersionPSB = 2
)

// ColorMode values from the file header.
type ColorMode uint16

// Color modes.
const (
	ColorBitmap       ColorMode = 0
	ColorGrayscale    ColorMode = 1
	ColorIndexed      ColorMode = 2
	ColorRGB          ColorMode = 3
	ColorCMYK         ColorMode = 4
	ColorMultichannel ColorMode = 7
	ColorDuotone      ColorMode = 8
	ColorLab          ColorMode = 9
)

func (m ColorMode) String() string {
	switch m {
	case ColorBitmap:
		return "bitmap"
	case ColorGrayscale:
		return "grayscale"
	case ColorIndexed:
		return "indexed"
	case ColorRGB:
		return "rgb"
	case ColorCMYK:
		return "cmyk"
	case ColorMultichannel:
		return "multichannel"
	case ColorDuotone:
		return "duotone"
	case ColorLab:
		return "lab"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(m))
	}
}

// Header is the decoded fixed header.
type Header struct {
	Version   int       `json:"version"`
	Channels  int       `json:"channels"`
	Height    int       `json:"height"`
	Width     int       `json:"width"`
	Depth     int       `json:"depth"`
	ColorMode ColorMode `json:"colorMode"`
}

// IsLarge reports whether the file is the large-document (PSB) variant.
func (h Header) IsLarge() bool { return h.Version == VersionPSB }

// Metadata returns the header as a document metadata map.
func (h Header) Metadata() map[string]any {
	return map[string]any{
		"version":   h.Version,
		"channels":  h.Channels,
		"depth":     h.Depth,
		"colorMode": h.ColorMode.String(),
		"large":     h.IsLarge(),
	}
}

// ErrInvalidHeader indicates a file with the right signature but an
// impossible header.
var ErrInvalidHeader = errors.New("invalid psd header")

// SignatureError is returned when the payload does not start with 8BPS.
type SignatureError struct {
	// Detected is the sniffed media type of the payload.
	Detected string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("not a psd file (detected %s)", e.Detected)
}

// CheckSignature verifies the 8BPS magic.
func CheckSignature(data []byte) error {
	if len(data) < len(Signature) || string(data[:len(Signature)]) != Signature {
		return &SignatureError{Detected: mimetype.Detect(data).String()}
	}
	return nil
}

// ParseHeader decodes and sanity-checks the fixed header.
func ParseHeader(data []byte) (Header, error) {
	if err := CheckSignature(data); err != nil {
		return Header{}, err
	}
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrInvalidHeader, len(data), HeaderSize)
	}

	be := binary.BigEndian
	h := Header{
		Version:   int(be.Uint16(data[4:6])),
		Channels:  int(be.Uint16(data[12:14])),
		Height:    int(be.Uint32(data[14:18])),
		Width:     int(be.Uint32(data[18:22])),
		Depth:     int(be.Uint16(data[22:24])),
		ColorMode: ColorMode(be.Uint16(data[24:26])),
	}
	// bytes 6..12 are reserved and must be zero
	for _, b := range data[6:12] {
		if b != 0 {
			return Header{}, fmt.Errorf("%w: reserved bytes are not zero", ErrInvalidHeader)
		}
	}

	maxSide := 30000
	if h.IsLarge() {
		maxSide = 300000
	}
	switch {
	case h.Version != VersionPSD && h.Version != VersionPSB:
		return Header{}, fmt.Errorf("%w: version %d", ErrInvalidHeader, h.Version)
	case h.Channels < 1 || h.Channels > 56:
		return Header{}, fmt.Errorf("%w: %d channels", ErrInvalidHeader, h.Channels)
	case h.Width < 1 || h.Width > maxSide || h.Height < 1 || h.Height > maxSide:
		return Header{}, fmt.Errorf("%w: %dx%d", ErrInvalidHeader, h.Width, h.Height)
	case h.Depth != 1 && h.Depth != 8 && h.Depth != 16 && h.Depth != 32:
		return Header{}, fmt.Errorf("%w: depth %d", ErrInvalidHeader, h.Depth)
	}
	return h, nil
}

// Encode builds a fixed header, e.g. for fixtures and stub documents.
func Encode(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Signature)
	be := binary.BigEndian
	be.PutUint16(buf[4:6], uint16(h.Version))
	be.PutUint16(buf[12:14], uint16(h.Channels))
	be.PutUint32(buf[14:18], uint32(h.Height))
	be.PutUint32(buf[18:22], uint32(h.Width))
	be.PutUint16(buf[22:24], uint16(h.Depth))
	be.PutUint16(buf[24:26], uint16(h.ColorMode))
	return buf
}
