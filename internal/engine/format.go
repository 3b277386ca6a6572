package engine

import "fmt"

// Format identifies an export artifact format.
type Format uint8

const (
	FormatPDF Format = iota + 1
	FormatSVG
	FormatPNG
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatSVG:
		return "svg"
	case FormatPNG:
		return "png"
	}
	return "unknown"
}

// Ext returns the artifact file extension including the dot.
func (f Format) Ext() string {
	return "." + f.String()
}

// ParseFormat maps a user-facing format name onto a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "pdf":
		return FormatPDF, nil
	case "svg":
		return FormatSVG, nil
	case "png":
		return FormatPNG, nil
	}
	return 0, fmt.Errorf("unknown export format %q", s)
}
