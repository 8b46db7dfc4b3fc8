// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package resp implements an incremental parser for the Redis
// Serialization Protocol, reduced to the single question a counting proxy
// needs answered: which command does each request frame carry?
//
// # Wire shapes
//
// Requests arrive in one of two forms:
//
//	Array form:  *<N>\r\n followed by N bulk strings, each
//	             $<len>\r\n<len bytes>\r\n. The first bulk string is the
//	             command name; the rest are arguments.
//	Inline form: a plain text line terminated by \r\n, split on
//	             whitespace, whose first token is the command name.
//
// Only the command name is ever decoded. Argument elements are skipped by
// their declared lengths, so per-argument cost does not grow with argument
// size, and argument payloads are never buffered.
//
// # Incremental operation
//
// Feed accepts chunks exactly as they were read from the socket. A frame
// split across any number of chunks produces the same command sequence as
// the same bytes in a single chunk. Unconsumed trailing bytes are carried
// in the parser until the continuation arrives.
//
// # Malformed input
//
// The parser never rejects and never alters the stream; it rides along.
// A header that does not parse as a non-negative integer within the
// protocol's size limits (512 MiB per bulk string, one million elements
// per array), or an element marker it does not recognize, puts the parser
// into resync mode: bytes
// are discarded through the next line boundary and scanning resumes there.
// Pending state is capped, so a line that never terminates cannot grow the
// parser without bound.
package resp
