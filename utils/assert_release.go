//go:build !debugassert

package utils

const assertionsEnabled = false
