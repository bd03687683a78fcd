// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the pragmas every
// local store here shares.
//
// It is a thin layer over zombiezen.com/go/sqlite's sqlitex.Pool.
// Connections come from Take and go back with Put, or are borrowed for
// the length of a callback with WithConn. A connection is used by one
// goroutine at a time.
//
// Every connection gets WAL journaling, NORMAL synchronous mode, a five
// second busy timeout, and in-memory temp storage. Config.Schema runs
// on each new connection, so it should be idempotent (CREATE ... IF NOT
// EXISTS).
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(stateDir, "history.db"),
//	    Schema: schema,
//	    Logger: logger,
//	})
//	...
//	err = pool.WithConn(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT ...", &sqlitex.ExecOptions{Args: args})
//	})
package sqlitepool
