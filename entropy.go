/*
File: entropy.go
Version: 1.0.0
Description: Shannon entropy over the 256-symbol byte alphabet. Used for the hostname feature.
*/

package main

import "math"

// ShannonEntropy returns the entropy of s in bits, counting each byte as one symbol.
// Empty input has an entropy of exactly 0.
func ShannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}

	var entropy float64
	total := float64(len(s))

	for _, count := range counts {
		if count > 0 {
			p := float64(count) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
