// Package tckn validates Turkish national identification numbers and digs
// candidate numbers out of noisy recognized text.
package tckn

import "strings"

// Length of a national identification number.
const Length = 11

// TagAlgorithmFailed marks a national id that fails the checksum algorithm.
const TagAlgorithmFailed = "national-id-algorithm-failed"

// Validate reports whether s is a well-formed national id: exactly 11
// digits, non-zero leading digit, and both check digits consistent. The
// 10th digit must equal ((sum of digits at odd positions)*7 - (sum at even
// positions)) mod 10 over the first nine, and the 11th the sum of the first
// ten mod 10.
func Validate(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != Length || s[0] == '0' {
		return false
	}
	var digits [Length]int
	for i := 0; i < Length; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		digits[i] = int(c - '0')
	}

	d10, d11 := checkDigits(digits[:9])
	return digits[9] == d10 && digits[10] == d11
}

// checkDigits derives the two check digits from the first nine.
func checkDigits(first9 []int) (d10, d11 int) {
	var odd, even int
	for i, d := range first9 {
		if i%2 == 0 { // 1-based odd positions
			odd += d
		} else {
			even += d
		}
	}
	d10 = (odd*7 - even) % 10
	if d10 < 0 {
		d10 += 10
	}
	sum := d10
	for _, d := range first9 {
		sum += d
	}
	d11 = sum % 10
	return d10, d11
}

// Complete appends the two check digits to a 9-digit prefix. It returns
// false when the prefix is not nine digits or starts with zero.
func Complete(prefix string) (string, bool) {
	if len(prefix) != Length-2 || prefix[0] == '0' {
		return "", false
	}
	digits := make([]int, Length-2)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c < '0' || c > '9' {
			return "", false
		}
		digits[i] = int(c - '0')
	}
	d10, d11 := checkDigits(digits)
	return prefix + string(rune('0'+d10)) + string(rune('0'+d11)), true
}

// ExtractCandidates finds national id candidates in recognized text: every
// contiguous 11-digit window, plus digit groups reassembled across
// whitespace and punctuation gaps. Only values passing the full algorithm
// come back; there is no partial credit at this layer. Order follows first
// appearance, duplicates collapse.
func ExtractCandidates(text string) []string {
	runs := digitRuns(text)

	var candidates []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if _, dup := seen[s]; dup || !Validate(s) {
			return
		}
		seen[s] = struct{}{}
		candidates = append(candidates, s)
	}

	// Contiguous windows within each run.
	for _, r := range runs {
		for i := 0; i+Length <= len(r.digits); i++ {
			add(r.digits[i : i+Length])
		}
	}

	// Reassemble runs whose gaps are pure whitespace or punctuation.
	for start := 0; start < len(runs); start++ {
		joined := runs[start].digits
		for next := start + 1; next < len(runs); next++ {
			if !runs[next-1].softGap {
				break
			}
			joined += runs[next].digits
			if len(joined) > 3*Length {
				break
			}
			for i := 0; i+Length <= len(joined); i++ {
				add(joined[i : i+Length])
			}
		}
	}
	return candidates
}

type digitRun struct {
	digits string
	// softGap is true when only whitespace or punctuation separates this
	// run from the next one.
	softGap bool
}

func digitRuns(text string) []digitRun {
	var runs []digitRun
	var cur strings.Builder
	gapSoft := true
	flush := func() {
		if cur.Len() > 0 {
			runs = append(runs, digitRun{digits: cur.String()})
			cur.Reset()
			gapSoft = true
		}
	}
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			if cur.Len() == 0 && len(runs) > 0 {
				runs[len(runs)-1].softGap = gapSoft
			}
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '.' || r == '-' || r == ':' || r == '/' || r == ',':
			flush()
		default:
			flush()
			gapSoft = false
		}
	}
	flush()
	return runs
}
