// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for --version.
//
// Release builds inject the values with -ldflags:
//
//	go build -ldflags "-X github.com/carlbarrdahl/grants-stack/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without them, the commit and build time come from the VCS stamp the
// Go toolchain embeds in the binary, when there is one.
package version
