package mrz

import "strings"

// Optical confusions resolved only in positions known to hold digits.
var digitConfusions = map[byte]byte{
	'O': '0', 'Q': '0',
	'I': '1', 'L': '1',
	'Z': '2',
	'E': '3',
	'A': '4',
	'S': '5',
	'G': '6',
	'T': '7',
	'B': '8',
	'g': '9', 'q': '9',
}

// Positions within each row that must hold digits: all check digits, both
// dates and the national id span.
var numericPositions = [RowCount][]int{
	0: {docCheckPos},
	1: digitRange(birthStart, birthCheckPos+1, expiryStart, expiryCheckPos+1, nationalStart, compositePos+1),
	2: nil,
}

func digitRange(bounds ...int) []int {
	var out []int
	for i := 0; i+1 < len(bounds); i += 2 {
		for p := bounds[i]; p < bounds[i+1]; p++ {
			out = append(out, p)
		}
	}
	return out
}

// canonicalize maps one OCR rune into the MRZ alphabet. Lowercase g and q
// survive until digit coercion because they read as 9; every other lowercase
// letter folds to uppercase. Unrecognizable runes become filler rather than
// guesses.
func canonicalize(r rune) byte {
	switch {
	case r >= '0' && r <= '9':
		return byte(r)
	case r >= 'A' && r <= 'Z':
		return byte(r)
	case r == 'g' || r == 'q':
		return byte(r)
	case r >= 'a' && r <= 'z':
		return byte(r - 'a' + 'A')
	case r == Filler:
		return Filler
	case r == ' ', r == '-', r == '_', r == '.':
		return Filler
	case r == '|', r == '!':
		return 'I'
	default:
		return Filler
	}
}

// Correct repairs OCR-damaged rows without inventing content. Passes:
// canonicalize to the MRZ alphabet, force the constant positions, coerce
// letters to digits where the layout demands digits, splice in trusted
// values from a companion read, and re-enforce the 30-character rows. A
// 2-row input is treated as missing row 1, which is synthesized from
// constants alone.
func Correct(rows []string, knownNationalID, knownDocNumber string) [RowCount]string {
	if len(rows) == RowCount-1 {
		synth := docTypeMarker + issuingCountry
		rows = append([]string{synth}, rows...)
	}

	var out [RowCount]string
	for i := 0; i < RowCount; i++ {
		var row string
		if i < len(rows) {
			row = rows[i]
		}

		// Pass 1: canonical alphabet.
		b := make([]byte, 0, RowLength)
		for _, r := range row {
			b = append(b, canonicalize(r))
		}
		for len(b) < RowLength {
			b = append(b, Filler)
		}
		b = b[:RowLength]

		// Pass 3: digit coercion in numeric positions.
		for _, pos := range numericPositions[i] {
			if d, ok := digitConfusions[b[pos]]; ok {
				b[pos] = d
			}
		}
		// Residual lowercase survivors fold to uppercase.
		for j, c := range b {
			if c == 'g' || c == 'q' {
				b[j] = c - 'a' + 'A'
			}
		}
		out[i] = string(b)
	}

	// Pass 2: constant positions.
	out[0] = spliceRow(out[0], 0, docTypeMarker)
	out[0] = spliceRow(out[0], len(docTypeMarker), issuingCountry)
	out[1] = spliceRow(out[1], natStart, nationality)

	// Pass 4: trusted companion reads overwrite their slices outright.
	if knownDocNumber != "" {
		out[0] = spliceRow(out[0], docNumberStart, fitField(knownDocNumber, docNumberEnd-docNumberStart))
	}
	if knownNationalID != "" {
		out[1] = spliceRow(out[1], nationalStart, fitField(knownNationalID, nationalEnd-nationalStart))
	}

	// Pass 5: the loop above already pinned each row to 30; splices cannot
	// grow them, so the invariant holds.
	return out
}

// spliceRow overwrites row content at the given position, never extending
// past the row end.
func spliceRow(row string, pos int, value string) string {
	if pos >= len(row) {
		return row
	}
	if pos+len(value) > len(row) {
		value = value[:len(row)-pos]
	}
	return row[:pos] + value + row[pos+len(value):]
}

// fitField pads a trusted value with filler or truncates it to the field
// width.
func fitField(v string, width int) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if len(v) > width {
		return v[:width]
	}
	return v + strings.Repeat(string(rune(Filler)), width-len(v))
}
