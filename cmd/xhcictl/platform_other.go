//go:build !linux

package main

import "github.com/google/subcommands"

// registerPlatform registers nothing; probe and serve need Linux.
func registerPlatform(func(subcommands.Command, string)) {}
