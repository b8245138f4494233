package psd

import (
	"errors"
	"testing"
)

// minimalPNG is the signature and IHDR chunk of a 1x1 PNG.
var minimalPNG = []byte{
	0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
	0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
}

func validHeader() Header {
	return Header{Version: VersionPSD, Channels: 3, Height: 600, Width: 800, Depth: 8, ColorMode: ColorRGB}
}

func TestParseHeader_RoundTrip(t *testing.T) {
	want := validHeader()
	got, err := ParseHeader(Encode(want))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Errorf("ParseHeader = %+v, want %+v", got, want)
	}
	if got.IsLarge() {
		t.Error("version 1 is not PSB")
	}
}

func TestParseHeader_PSB(t *testing.T) {
	h := validHeader()
	h.Version = VersionPSB
	h.Width = 100000
	got, err := ParseHeader(Encode(h))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.IsLarge() {
		t.Error("version 2 should be PSB")
	}
}

func TestCheckSignature_PNG(t *testing.T) {
	err := CheckSignature(minimalPNG)
	var sigErr *SignatureError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected *SignatureError, got %v", err)
	}
	if sigErr.Detected != "image/png" {
		t.Errorf("Detected = %q, want image/png", sigErr.Detected)
	}
}

func TestCheckSignature_Short(t *testing.T) {
	var sigErr *SignatureError
	if err := CheckSignature([]byte("8B")); !errors.As(err, &sigErr) {
		t.Errorf("expected *SignatureError for truncated input, got %v", err)
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *Header)
		raw    func(b []byte) []byte
	}{
		{name: "version", mutate: func(h *Header) { h.Version = 3 }},
		{name: "channels", mutate: func(h *Header) { h.Channels = 0 }},
		{name: "width", mutate: func(h *Header) { h.Width = 0 }},
		{name: "too tall for psd", mutate: func(h *Header) { h.Height = 40000 }},
		{name: "depth", mutate: func(h *Header) { h.Depth = 7 }},
		{name: "reserved", raw: func(b []byte) []byte { b[8] = 1; return b }},
		{name: "truncated", raw: func(b []byte) []byte { return b[:20] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHeader()
			if tt.mutate != nil {
				tt.mutate(&h)
			}
			data := Encode(h)
			if tt.raw != nil {
				data = tt.raw(data)
			}
			if _, err := ParseHeader(data); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("expected ErrInvalidHeader, got %v", err)
			}
		})
	}
}

func TestHeader_Metadata(t *testing.T) {
	m := validHeader().Metadata()
	if m["colorMode"] != "rgb" {
		t.Errorf("colorMode = %v, want rgb", m["colorMode"])
	}
	if m["large"] != false {
		t.Errorf("large = %v, want false", m["large"])
	}
}
