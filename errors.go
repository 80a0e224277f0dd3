/*
File: errors.go
Version: 1.0.0
Description: Sentinel errors shared by the scoring, feedback and model layers.
*/

package main

import "errors"

var (
	// ErrMissingURL is a client-input error: the request carried no URL.
	ErrMissingURL = errors.New("missing URL")

	// ErrInvalidArtifact means a model artifact decoded but does not describe a usable classifier.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)
