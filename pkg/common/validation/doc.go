// Package validation provides common validation utilities for configuration
// parameters and pipeline descriptors across the dataflow packages.
//
// Every helper returns a *errors.ValidationError so callers can collect
// failures and report them together.
package validation
