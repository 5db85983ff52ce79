// Package bank canonicalizes free-text bank and payment-channel names
// into a fixed bank-key vocabulary.
//
// Deposit rows arrive with strings like "Dep. B. Atlántida" while POS
// sales carry gateway names like "BAC Credomatic"; both must resolve to
// the same key before any matching can happen.
package bank

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Known bank keys.
const (
	BAC       = "BAC"
	Ficohsa   = "FICOHSA"
	Atlantida = "ATLANTIDA"
	Banpais   = "BANPAIS"
	Occidente = "OCCIDENTE"
	Banrural  = "BANRURAL"
	Unknown   = "UNKNOWN"
)

// aliases maps fully-cleaned strings straight to a bank key.
var aliases = map[string]string{
	"BAC":            BAC,
	"BAC CREDOMATIC": BAC,
	"CREDOMATIC":     BAC,
	"FICOHSA":        Ficohsa,
	"ATLANTIDA":      Atlantida,
	"BANPAIS":        Banpais,
	"OCCIDENTE":      Occidente,
	"BANRURAL":       Banrural,
}

// fragments are substring rules applied in priority order after the
// alias map misses. Order matters: "PAIS" must not shadow "OCCIDENT".
var fragments = []struct {
	substr string
	key    string
}{
	{"CREDOMATIC", BAC},
	{"FICO", Ficohsa},
	{"ATLANT", Atlantida},
	{"PAIS", Banpais},
	{"OCCIDENT", Occidente},
	{"RURAL", Banrural},
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold canonicalizes a string for comparison: diacritics stripped, dots
// treated as spaces, whitespace collapsed, uppercased. Unmappable input
// passes through unchanged rather than being dropped.
func Fold(s string) string {
	if folded, _, err := transform.String(deaccent, s); err == nil {
		s = folded
	}
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToUpper(s)
}

// Similar reports whether two attribution strings refer to the same
// party. Empty strings never match anything: absence is no signal.
func Similar(a, b string) bool {
	fa, fb := Fold(a), Fold(b)
	if fa == "" || fb == "" {
		return false
	}
	return fa == fb
}

// Normalize maps a raw bank or gateway string to a bank key. Input that
// matches no known bank yields the cleaned string itself so operators
// can see unmapped values; only empty input yields Unknown.
func Normalize(raw string) string {
	s := stripPrefixes(Fold(raw))
	if s == "" {
		return Unknown
	}
	if key, ok := aliases[s]; ok {
		return key
	}
	for _, f := range fragments {
		if strings.Contains(s, f.substr) {
			return f.key
		}
	}
	return s
}

// stripPrefixes removes deposit/bank noise words from the front of an
// already-folded string: "DEP B FICOHSA", "DEPOSITO BAC", "B ATLANTIDA".
func stripPrefixes(s string) string {
	for changed := true; changed; {
		changed = false
		for _, p := range []string{"DEPOSITO ", "DEPOSIT ", "DEP ", "BANK ", "B "} {
			if strings.HasPrefix(s, p) {
				s = strings.TrimPrefix(s, p)
				changed = true
			}
		}
	}
	return strings.TrimSpace(s)
}
