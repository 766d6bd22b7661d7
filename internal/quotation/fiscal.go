package quotation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Quotation numbers follow QT/{fyCode}/{initials}/{seq}. The sequence is
// zero-padded to three digits and widens naturally past 999. The full number
// is an immutable business key, so the fiscal-year derivation below must not
// change once quotations have been issued.

// FiscalYearCode returns the four-digit code of the April-start fiscal year
// containing date, e.g. April 2025 -> "2526", March 2025 -> "2425".
func FiscalYearCode(date time.Time) string {
	year := date.Year()
	if date.Month() >= time.April {
		return fmt.Sprintf("%02d%02d", year%100, (year+1)%100)
	}
	return fmt.Sprintf("%02d%02d", (year-1)%100, year%100)
}

// FormatNumber renders the business key for a partition and sequence.
func FormatNumber(fyCode, initials string, seq int) string {
	return fmt.Sprintf("QT/%s/%s/%03d", fyCode, initials, seq)
}

// NumberPrefix returns the shared prefix of every number in a
// (fiscal year, initials) partition.
func NumberPrefix(fyCode, initials string) string {
	return fmt.Sprintf("QT/%s/%s/", fyCode, initials)
}

// ParseSequence extracts the trailing running number from a quotation number.
// The second return is false when the suffix is not numeric.
func ParseSequence(quotationNo string) (int, bool) {
	idx := strings.LastIndex(quotationNo, "/")
	if idx < 0 || idx == len(quotationNo)-1 {
		return 0, false
	}
	seq, err := strconv.Atoi(quotationNo[idx+1:])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

var initialsFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// DeriveInitials builds uppercase initials (at most three letters) from a
// salesperson's full name, folding diacritics so the result stays within the
// business key's A-Z alphabet.
func DeriveInitials(fullName string) string {
	folded, _, err := transform.String(initialsFolder, fullName)
	if err != nil {
		folded = fullName
	}

	var letters []rune
	for _, part := range strings.Fields(folded) {
		for _, r := range part {
			if unicode.IsLetter(r) {
				letters = append(letters, unicode.ToUpper(r))
				break
			}
		}
		if len(letters) == 3 {
			break
		}
	}
	if len(letters) == 0 {
		return "XX"
	}
	return string(letters)
}
