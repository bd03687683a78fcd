// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads round-publisher configuration.
//
// Configuration is one YAML file named by the --config flag or the
// ROUND_PUBLISHER_CONFIG environment variable. There is no search path
// and environment variables never override individual values; the
// only expansion is ${VAR} and ${VAR:-default} inside path fields.
//
// The file may carry development, staging, and production sections
// whose non-empty fields override the base values when environment
// matches:
//
//	environment: staging
//	paths:
//	  root: ${HOME}/.local/share/round-publisher
//	indexer:
//	  poll_interval: 2s
//	staging:
//	  indexer:
//	    endpoint: https://indexer.example.org/subgraphs/name/rounds
package config
