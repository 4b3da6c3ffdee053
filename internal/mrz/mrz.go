// Package mrz implements TD1 machine readable zone checksum validation,
// best-effort OCR correction and field extraction for identity cards.
package mrz

import "strings"

const (
	// RowCount and RowLength fix the TD1 3x30 layout.
	RowCount  = 3
	RowLength = 30

	// Filler pads unused positions.
	Filler = '<'

	// Alphabet is the full MRZ character set.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"

	// Constant positions for Turkish identity cards.
	docTypeMarker  = "I<"
	issuingCountry = "TUR"
	nationality    = "TUR"
)

// TD1 field slices, 0-based. Row 1 carries the document number, row 2 the
// dates, nationality and national id, row 3 the name.
const (
	docNumberStart = 5
	docNumberEnd   = 14
	docCheckPos    = 14

	birthStart     = 0
	birthEnd       = 6
	birthCheckPos  = 6
	sexPos         = 7
	expiryStart    = 8
	expiryEnd      = 14
	expiryCheckPos = 14
	natStart       = 15
	natEnd         = 18
	nationalStart  = 18
	nationalEnd    = 29
	compositePos   = 29
)

// Per-field checksum weight in the 0-60 scoring budget.
const (
	FieldPoints    = 15
	ChecksumBudget = 60
)

// Checksum failure tags.
const (
	TagChecksumDocNumber = "mrz-checksum-failed:document-number"
	TagChecksumBirthDate = "mrz-checksum-failed:birth-date"
	TagChecksumExpiry    = "mrz-checksum-failed:expiry-date"
	TagChecksumComposite = "mrz-checksum-failed:composite"
)

var checksumWeights = [3]int{7, 3, 1}

// CharValue maps an MRZ character onto its checksum value. Digits map to
// themselves, letters to 10 plus their alphabet index, and the filler or any
// unrecognized character to zero.
func CharValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 0
	}
}

// Checksum computes the 7-3-1 weighted checksum used by every checked MRZ
// field, including the composite field.
func Checksum(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += CharValue(s[i]) * checksumWeights[i%3]
	}
	return sum % 10
}

// padRow brings a single row to exactly RowLength characters.
func padRow(row string) string {
	if len(row) > RowLength {
		return row[:RowLength]
	}
	if len(row) < RowLength {
		return row + strings.Repeat(string(rune(Filler)), RowLength-len(row))
	}
	return row
}

// normalizeRows shapes arbitrary input into the fixed 3x30 layout, padding
// missing rows with filler.
func normalizeRows(rows []string) [RowCount]string {
	var out [RowCount]string
	for i := 0; i < RowCount; i++ {
		if i < len(rows) {
			out[i] = padRow(rows[i])
		} else {
			out[i] = strings.Repeat(string(rune(Filler)), RowLength)
		}
	}
	return out
}

// compositeInput concatenates the spans covered by the TD1 composite check:
// document number with its check and filler, birth date with check, expiry
// with check, and the national id span.
func compositeInput(r1, r2 string) string {
	return r1[docNumberStart:] + r2[birthStart:birthCheckPos+1] +
		r2[expiryStart:expiryCheckPos+1] + r2[nationalStart:nationalEnd]
}

// ValidationScore reports which checked fields verified and the points they
// earned out of the 0-60 budget.
type ValidationScore struct {
	DocumentNumber bool     `json:"document_number"`
	BirthDate      bool     `json:"birth_date"`
	Expiry         bool     `json:"expiry"`
	Composite      bool     `json:"composite"`
	Total          int      `json:"total"`
	Tags           []string `json:"tags,omitempty"`
}

// Validate checks the four TD1 checksums. Rows are padded or truncated to
// the fixed layout first; missing rows count as filler, so short or garbled
// input degrades to a low score instead of failing.
func Validate(rows []string) ValidationScore {
	n := normalizeRows(rows)
	r1, r2 := n[0], n[1]

	var score ValidationScore
	check := func(ok *bool, fail string, input string, checkDigit byte) {
		// A field that is pure filler, or a non-digit in the check position,
		// earns nothing: 0 == 0 must not count as verification.
		if hasContent(input) && checkDigit >= '0' && checkDigit <= '9' &&
			Checksum(input) == int(checkDigit-'0') {
			*ok = true
			score.Total += FieldPoints
			return
		}
		score.Tags = append(score.Tags, fail)
	}

	check(&score.DocumentNumber, TagChecksumDocNumber, r1[docNumberStart:docNumberEnd], r1[docCheckPos])
	check(&score.BirthDate, TagChecksumBirthDate, r2[birthStart:birthEnd], r2[birthCheckPos])
	check(&score.Expiry, TagChecksumExpiry, r2[expiryStart:expiryEnd], r2[expiryCheckPos])
	check(&score.Composite, TagChecksumComposite, compositeInput(r1, r2), r2[compositePos])
	return score
}

func hasContent(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != Filler {
			return true
		}
	}
	return false
}
