// Package util provides common utility functions and data structures
//
// This package includes a generic set implementation and small helpers
// used throughout the workflow engine
package util
