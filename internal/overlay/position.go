package overlay

import (
	"math"
	"unicode/utf8"

	"fortio.org/safecast"
)

// Encoding is the negotiated position encoding: how the Character field of a
// Position counts columns within a line.
type Encoding uint8

const (
	// EncodingUTF16 counts UTF-16 code units (the protocol default).
	EncodingUTF16 Encoding = iota
	// EncodingUTF8 counts bytes.
	EncodingUTF8
)

func (e Encoding) String() string {
	if e == EncodingUTF8 {
		return "utf-8"
	}
	return "utf-16"
}

// Position is a zero-based line/column document position.
type Position struct {
	Line      uint32
	Character uint32
}

// Range is a half-open [Start, End) document range.
type Range struct {
	Start Position
	End   Position
}

// ContentChange is one incremental document change. A nil Range replaces the
// whole document with Text.
type ContentChange struct {
	Range *Range
	Text  string
}

// applyChanges applies ordered changes to text. Out-of-bounds positions are
// clamped rather than rejected: editors occasionally race their own edits
// and the overlay content is still the closest consistent state.
func applyChanges(text string, changes []ContentChange, enc Encoding) string {
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		start := OffsetForPosition(text, change.Range.Start, enc)
		end := OffsetForPosition(text, change.Range.End, enc)
		if end < start {
			end = start
		}
		text = text[:start] + change.Text + text[end:]
	}
	return text
}

// OffsetForPosition converts a line/column position to a byte offset in
// text, clamping past-end positions to the line or document end.
func OffsetForPosition(text string, pos Position, enc Encoding) int {
	targetLine := int(pos.Line)
	targetCol := int(pos.Character)

	i := 0
	line := 0
	for i < len(text) && line < targetLine {
		if text[i] == '\n' {
			line++
		}
		i++
	}
	if line < targetLine {
		return len(text)
	}

	col := 0
	for i < len(text) && text[i] != '\n' {
		r, size := utf8.DecodeRuneInString(text[i:])
		need := size
		if enc == EncodingUTF16 {
			need = 1
			if r > 0xFFFF {
				need = 2
			}
		}
		if col+need > targetCol {
			break
		}
		col += need
		i += size
		if col == targetCol {
			break
		}
	}
	return i
}

// PositionForOffset converts a byte offset to a line/column position in the
// given encoding. Offsets outside the text are clamped.
func PositionForOffset(text string, off int, enc Encoding) Position {
	if off < 0 {
		off = 0
	}
	if off > len(text) {
		off = len(text)
	}

	line := 0
	lineStart := 0
	for i := 0; i < off; i++ {
		if text[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	return Position{
		Line:      toU32(line),
		Character: toU32(columnUnits(text[lineStart:off], enc)),
	}
}

// RangeForOffsets converts a byte offset pair to a Range.
func RangeForOffsets(text string, start, end int, enc Encoding) Range {
	return Range{
		Start: PositionForOffset(text, start, enc),
		End:   PositionForOffset(text, end, enc),
	}
}

// ColumnUnits counts the width of s in the encoding's units. Useful for
// turning an in-line byte offset into a Character value.
func ColumnUnits(s string, enc Encoding) uint32 {
	return toU32(columnUnits(s, enc))
}

// columnUnits counts the width of s in the encoding's units.
func columnUnits(s string, enc Encoding) int {
	if enc == EncodingUTF8 {
		return len(s)
	}
	units := 0
	for _, r := range s {
		units++
		if r > 0xFFFF {
			units++
		}
	}
	return units
}

func toU32(v int) uint32 {
	u, err := safecast.Conv[uint32](v)
	if err != nil {
		return math.MaxUint32
	}
	return u
}
