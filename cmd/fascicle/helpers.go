package main

import "strings"

// shortKey truncates the digest half of a "stage:digest" encoding for
// display.
func shortKey(key string) string {
	stage, digest, ok := strings.Cut(key, ":")
	if !ok {
		return key
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return stage + ":" + digest
}
