package main

import "github.com/google/uuid"

// randomPassword generates the one-time bootstrap admin password written
// to password.txt (spec.md §6). A fresh UUIDv4 gives 122 bits of entropy
// in a form that's easy to copy out of a file by hand.
func randomPassword() string {
	return uuid.New().String()
}
