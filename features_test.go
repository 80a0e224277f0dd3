package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFeatures_AlwaysFinite(t *testing.T) {
	inputs := []string{
		"",
		"http://",
		"://missing-scheme",
		"http://[::1",
		"http://%zz",
		"%",
		" \t\n",
		"\x00\x01\x02",
		"http://user@evil.com@good.com/",
		"ftp://ÜNÏCÖDÉ.example/ñ",
		"javascript:alert(1)",
	}

	for _, in := range inputs {
		v := ExtractFeatures(in)
		require.Len(t, v, FeatureCount)
		for i, x := range v {
			assert.False(t, math.IsNaN(x) || math.IsInf(x, 0), "input %q slot %s = %v", in, FeatureNames[i], x)
			assert.GreaterOrEqual(t, x, 0.0)
		}
	}
}

func TestExtractFeatures_EmptyIsZero(t *testing.T) {
	assert.Equal(t, FeatureVector{}, ExtractFeatures(""))
}

func TestExtractFeatures_IPv4Indicator(t *testing.T) {
	tests := []struct {
		url  string
		want float64
	}{
		{"http://192.168.1.5/login", 1},
		{"http://example.com", 0},
		{"http://999.999.999.999", 1},
		{"http://10.0.0.1:8080/x", 1},
		{"http://1.2.3", 0},
		{"http://1.2.3.4.5", 0},
		{"http://[::1]/", 0},
		{"192.168.1.5", 0}, // no authority, no hostname
		{"http://192.168.1.5/%zz", 1},
		{"http://10.0.0.1:80abc/", 1},
		{"http://10.0.0.1/\x7f", 1},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFeatures(tt.url)[FeatIsIPv4])
		})
	}
}

func TestExtractFeatures_Counts(t *testing.T) {
	v := ExtractFeatures("a-b-c.com")
	assert.Equal(t, 1.0, v[FeatDotCount])
	assert.Equal(t, 2.0, v[FeatHyphenCount])
	assert.Equal(t, 9.0, v[FeatURLLength])
	assert.Equal(t, 0.0, v[FeatHostLength])
	assert.Equal(t, 0.0, v[FeatHostEntropy])

	v = ExtractFeatures("http://user@secure-login.example.com:8443/a1/b22?id=333")
	assert.Equal(t, 2.0, v[FeatDotCount])
	assert.Equal(t, 1.0, v[FeatHyphenCount])
	assert.Equal(t, 1.0, v[FeatAtCount])
	assert.Equal(t, 10.0, v[FeatDigitCount])
	assert.Equal(t, float64(len("secure-login.example.com")), v[FeatHostLength])
	assert.InDelta(t, ShannonEntropy("secure-login.example.com"), v[FeatHostEntropy], 1e-12)
}

func TestExtractFeatures_RuneLengthsASCIIDigits(t *testing.T) {
	// Arabic-Indic digits are not ASCII digits.
	v := ExtractFeatures("http://ñandú.com/٣٤")
	assert.Equal(t, 19.0, v[FeatURLLength])
	assert.Equal(t, 9.0, v[FeatHostLength])
	assert.Equal(t, 0.0, v[FeatDigitCount])
}

func TestExtractFeatures_Deterministic(t *testing.T) {
	u := "https://login-paypal.com.verify-account.ru/session/8812"
	assert.Equal(t, ExtractFeatures(u), ExtractFeatures(u))
}

func TestHostname(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.COM/path", "example.com"},
		{"http://example.com:8080", "example.com"},
		{"http://[2001:DB8::1]:443/", "2001:db8::1"},
		{"http://user:pw@host.test/", "host.test"},
		{"example.com", ""},
		{"http://[::1", ""},
		{"", ""},
		{"http://192.168.1.5/%zz", "192.168.1.5"},
		{"http://host.test/a#%zz", "host.test"},
		{"http://host.test:80abc/", "host.test"},
		{"http://host.test/\x7f", "host.test"},
		{"HTTP://a@b@Host.Test:x/%zz", "host.test"},
		{"//host.test/%zz", "host.test"},
		{"http://[2001:db8::1]:x/", "2001:db8::1"},
		{"http://[::1/%zz", ""},
		{"1http://host.test/%zz", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hostname(tt.in), tt.in)
	}
}

func TestExtractFeatures_BrokenPathKeepsHost(t *testing.T) {
	raw := "http://paypal.com.secure-login.ru/verify%zz"
	host := "paypal.com.secure-login.ru"

	v := ExtractFeatures(raw)
	assert.Equal(t, float64(len(host)), v[FeatHostLength])
	assert.InDelta(t, ShannonEntropy(host), v[FeatHostEntropy], 1e-12)
	clean := ExtractFeatures("http://" + host + "/verify")
	for _, slot := range []int{FeatHostLength, FeatHostEntropy, FeatIsIPv4, FeatDotCount, FeatHyphenCount} {
		assert.Equal(t, clean[slot], v[slot], FeatureNames[slot])
	}
}

func TestParseOr(t *testing.T) {
	calls := 0
	parse := parseOr(func(s string) (int, error) {
		calls++
		if s == "" {
			return 0, ErrMissingURL
		}
		return len(s), nil
	}, -1)

	assert.Equal(t, -1, parse(""))
	assert.Equal(t, 3, parse("abc"))
	assert.Equal(t, 2, calls)
}

func TestFeatureNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, n := range FeatureNames {
		require.NotEmpty(t, n)
		require.False(t, seen[n], "duplicate feature name %s", n)
		seen[n] = true
	}
}
