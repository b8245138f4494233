package types

import (
	"encoding/json"
	"fmt"
)

// LayerBounds is the pixel rectangle a layer occupies.
type LayerBounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Layer is one node of the document layer tree.
type Layer struct {
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name"`
	Type     string      `json:"type,omitempty"` // group, text, shape, image
	Visible  bool        `json:"visible"`
	Opacity  float64     `json:"opacity,omitempty"`
	Bounds   LayerBounds `json:"bounds"`
	Children []Layer     `json:"children,omitempty"`
}

// ParsedDocument is the parse result returned by parse-psd and by a
// successful chunked complete.
type ParsedDocument struct {
	FileName string         `json:"fileName,omitempty"`
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	Layers   []Layer        `json:"layers"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Raw is the document exactly as the backend returned it.
	// It is sent back as psdData so fields unknown to this client survive.
	Raw json.RawMessage `json:"-"`
}

// DecodeDocument decodes a backend document payload and keeps the raw bytes.
func DecodeDocument(raw json.RawMessage) (*ParsedDocument, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("document payload is empty")
	}
	var doc ParsedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.Raw = append(json.RawMessage(nil), raw...)
	return &doc, nil
}

// Payload returns the bytes to send as psdData.
func (d *ParsedDocument) Payload() (json.RawMessage, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	return json.Marshal(d)
}

// LayerCount returns the number of layers including nested children.
func (d *ParsedDocument) LayerCount() int {
	return countLayers(d.Layers)
}

func countLayers(layers []Layer) int {
	n := len(layers)
	for _, l := range layers {
		n += countLayers(l.Children)
	}
	return n
}

// ParseRequest is the body of POST /api/parse-psd.
// Exactly one of FilePath or FileData is set.
type ParseRequest struct {
	FilePath         string `json:"filePath,omitempty"`
	FileData         string `json:"fileData,omitempty"` // data URL
	IncludeImageData bool   `json:"includeImageData"`
}

// ParseResponse is the reply to parse-psd.
type ParseResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}
