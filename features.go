/*
File: features.go
Version: 1.2.0
Description: Lexical feature extraction for URLs.
             The slot order below is shared by training and inference and is stored in every
             model artifact. Never reorder, insert or remove slots without retraining.
*/

package main

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// FeatureCount is the fixed length of a FeatureVector.
const FeatureCount = 8

// Slot indices into a FeatureVector.
const (
	FeatURLLength = iota
	FeatHostLength
	FeatDotCount
	FeatHyphenCount
	FeatAtCount
	FeatDigitCount
	FeatHostEntropy
	FeatIsIPv4
)

// FeatureVector is the numeric summary of a URL fed to the classifier.
type FeatureVector [FeatureCount]float64

// FeatureNames names each slot of a FeatureVector, in order.
var FeatureNames = [FeatureCount]string{
	"url_length",
	"hostname_length",
	"dot_count",
	"hyphen_count",
	"at_count",
	"digit_count",
	"hostname_entropy",
	"hostname_is_ipv4",
}

// Dotted quad, octets are deliberately not range checked.
var ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// ExtractFeatures maps any string to its FeatureVector. It never fails: a URL that cannot be
// parsed is treated as having no hostname.
func ExtractFeatures(rawURL string) FeatureVector {
	var v FeatureVector

	hostname := parseOr(parseHostname, "")(rawURL)

	v[FeatURLLength] = float64(utf8.RuneCountInString(rawURL))
	v[FeatHostLength] = float64(utf8.RuneCountInString(hostname))
	v[FeatDotCount] = float64(strings.Count(rawURL, "."))
	v[FeatHyphenCount] = float64(strings.Count(rawURL, "-"))
	v[FeatAtCount] = float64(strings.Count(rawURL, "@"))
	v[FeatDigitCount] = float64(countDigits(rawURL))
	v[FeatHostEntropy] = ShannonEntropy(hostname)
	if ipv4Pattern.MatchString(hostname) {
		v[FeatIsIPv4] = 1
	}

	return v
}

// Hostname returns the lower-cased hostname of rawURL, or "" if it has none or does not parse.
func Hostname(rawURL string) string {
	return parseOr(parseHostname, "")(rawURL)
}

// parseOr turns a fallible parser into a total one that yields fallback on error.
func parseOr[T any](parse func(string) (T, error), fallback T) func(string) T {
	return func(s string) T {
		v, err := parse(s)
		if err != nil {
			return fallback
		}
		return v
	}
}

// parseHostname strips port and IPv6 brackets and lower-cases the host. A string without
// a scheme or authority ("a-b-c.com") has no hostname. When the full URL does not parse
// (bad escape in the path, non-numeric port, control characters) the host is read from the
// authority alone; only a malformed authority yields an error.
func parseHostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err == nil {
		return strings.ToLower(u.Hostname()), nil
	}
	authority, ok := splitAuthority(rawURL)
	if !ok {
		return "", err
	}
	return hostFromAuthority(authority)
}

// splitAuthority returns the text between "//" and the first '/', '?' or '#'.
func splitAuthority(rawURL string) (string, bool) {
	rest := rawURL
	if i := strings.IndexByte(rawURL, ':'); i > 0 && validScheme(rawURL[:i]) {
		rest = rawURL[i+1:]
	}
	if !strings.HasPrefix(rest, "//") {
		return "", false
	}
	rest = rest[2:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest, true
}

func validScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}

// hostFromAuthority drops userinfo (up to the last '@'), the port and IPv6 brackets.
func hostFromAuthority(authority string) (string, error) {
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		authority = authority[at+1:]
	}

	host := authority
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", fmt.Errorf("unclosed IPv6 literal in %q", authority)
		}
		host = authority[1:end]
	} else if c := strings.IndexByte(authority, ':'); c >= 0 {
		host = authority[:c]
	}
	return strings.ToLower(host), nil
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}
