package mrz

import "strings"

// Structure failure tags.
const (
	TagStructureRowCount    = "mrz-structure-invalid:row-count"
	TagStructureRowLength   = "mrz-structure-invalid:row-length"
	TagStructureCharset     = "mrz-structure-invalid:charset"
	TagStructureFillerRatio = "mrz-structure-invalid:filler-ratio"
)

// Expected share of filler characters across a populated TD1 zone.
const (
	fillerRatioMin = 0.05
	fillerRatioMax = 0.55
)

// Structure describes how plausibly raw OCR rows resemble a TD1 zone,
// before any correction is applied.
type Structure struct {
	RowCountOK    bool     `json:"row_count_ok"`
	RowLengthOK   bool     `json:"row_length_ok"`
	CharsetOK     bool     `json:"charset_ok"`
	FillerRatioOK bool     `json:"filler_ratio_ok"`
	FillerRatio   float64  `json:"filler_ratio"`
	Tags          []string `json:"tags,omitempty"`
}

// AssessStructure checks raw rows against the fixed TD1 shape: three rows
// of thirty characters from the MRZ alphabet, with a filler share inside
// the band a populated zone produces.
func AssessStructure(rows []string) Structure {
	var s Structure
	s.RowCountOK = len(rows) == RowCount

	s.RowLengthOK = len(rows) > 0
	for _, row := range rows {
		if len(row) != RowLength {
			s.RowLengthOK = false
		}
	}

	var total, valid, filler int
	for _, row := range rows {
		for i := 0; i < len(row); i++ {
			total++
			if strings.IndexByte(Alphabet, row[i]) >= 0 {
				valid++
			}
			if row[i] == Filler {
				filler++
			}
		}
	}
	s.CharsetOK = total > 0 && valid == total
	if total > 0 {
		s.FillerRatio = float64(filler) / float64(total)
	}
	s.FillerRatioOK = total > 0 && s.FillerRatio >= fillerRatioMin && s.FillerRatio <= fillerRatioMax

	if !s.RowCountOK {
		s.Tags = append(s.Tags, TagStructureRowCount)
	}
	if !s.RowLengthOK {
		s.Tags = append(s.Tags, TagStructureRowLength)
	}
	if !s.CharsetOK {
		s.Tags = append(s.Tags, TagStructureCharset)
	}
	if !s.FillerRatioOK {
		s.Tags = append(s.Tags, TagStructureFillerRatio)
	}
	return s
}

// Fields carries the values extracted from a TD1 zone with filler stripped.
type Fields struct {
	DocumentType   string `json:"document_type"`
	IssuingCountry string `json:"issuing_country"`
	DocumentNumber string `json:"document_number"`
	BirthDate      string `json:"birth_date"`
	Sex            string `json:"sex"`
	ExpiryDate     string `json:"expiry_date"`
	Nationality    string `json:"nationality"`
	NationalID     string `json:"national_id"`
	Surname        string `json:"surname"`
	GivenNames     string `json:"given_names"`
}

// Parse slices the fixed TD1 layout out of the rows. It performs no
// validation; callers correct and validate separately.
func Parse(rows []string) Fields {
	n := normalizeRows(rows)
	r1, r2, r3 := n[0], n[1], n[2]

	surname, given := splitName(r3)
	return Fields{
		DocumentType:   cleanField(r1[0:2]),
		IssuingCountry: cleanField(r1[2:5]),
		DocumentNumber: cleanField(r1[docNumberStart:docNumberEnd]),
		BirthDate:      cleanField(r2[birthStart:birthEnd]),
		Sex:            cleanField(r2[sexPos : sexPos+1]),
		ExpiryDate:     cleanField(r2[expiryStart:expiryEnd]),
		Nationality:    cleanField(r2[natStart:natEnd]),
		NationalID:     cleanField(r2[nationalStart:nationalEnd]),
		Surname:        surname,
		GivenNames:     given,
	}
}

// splitName divides row 3 at the double filler separating surname from
// given names.
func splitName(row string) (surname, given string) {
	if i := strings.Index(row, "<<"); i >= 0 {
		return cleanField(row[:i]), cleanField(row[i+2:])
	}
	return cleanField(row), ""
}

// cleanField trims surrounding filler and turns interior filler into
// spaces.
func cleanField(s string) string {
	s = strings.Trim(s, string(rune(Filler)))
	return strings.ReplaceAll(s, string(rune(Filler)), " ")
}
