// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package resp

import (
	"bytes"
	"strconv"
	"strings"
)

const (
	// maxPending bounds how many bytes of an incomplete header or inline
	// line the parser will hold before it gives up on the current frame
	// and resynchronizes at the next line boundary.
	maxPending = 64 * 1024

	// maxBulkLen is the server's own proto-max-bulk-len limit (512 MiB).
	// A declared length beyond it is a malformed header, not a payload,
	// and keeping lengths in this range makes the skip arithmetic safe
	// from overflow.
	maxBulkLen = 512 * 1024 * 1024

	// maxArrayLen is the server's multibulk element limit.
	maxArrayLen = 1024 * 1024
)

// Parser extracts command names from the client-to-upstream byte stream
// incrementally. Chunks may split frames at arbitrary positions; partial
// frame state is carried between Feed calls.
//
// The parser only observes: callers forward the exact bytes they read,
// untouched, regardless of what Feed returns.
//
// A Parser belongs to a single connection's client-to-upstream direction
// and is not safe for concurrent use. The zero value is ready to use.
type Parser struct {
	buf   []byte // pending bytes of an incomplete header, line, or command name
	skip  int    // bulk payload bytes still to discard without buffering
	elems int    // trailing bulk elements still to skip in the current frame
	sync  bool   // discarding through the next LF after a malformed header
}

// Feed consumes the next chunk read from the client and returns the
// command names completed by it, upper-cased, in receive order. An empty
// chunk is a no-op.
func (p *Parser) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	// Bulk payloads being skipped are dropped before buffering, so large
	// argument values never accumulate in the pending buffer.
	if p.skip > 0 {
		if len(chunk) <= p.skip {
			p.skip -= len(chunk)
			return nil
		}
		chunk = chunk[p.skip:]
		p.skip = 0
	}

	p.buf = append(p.buf, chunk...)
	return p.parse()
}

// parse drains as many complete frames from the pending buffer as possible.
func (p *Parser) parse() []string {
	var cmds []string

loop:
	for {
		if p.sync {
			i := bytes.IndexByte(p.buf, '\n')
			if i < 0 {
				p.buf = p.buf[:0]
				break
			}
			p.buf = p.buf[i+1:]
			p.sync = false
		}

		if p.skip > 0 {
			if len(p.buf) <= p.skip {
				p.skip -= len(p.buf)
				p.buf = p.buf[:0]
				break
			}
			p.buf = p.buf[p.skip:]
			p.skip = 0
		}

		if p.elems > 0 {
			if !p.skipElement() {
				break
			}
			continue
		}

		if len(p.buf) == 0 {
			break
		}

		switch c := p.buf[0]; {
		case c == '*':
			cmd, ok := p.parseArray()
			if !ok {
				break loop
			}
			if cmd != "" {
				cmds = append(cmds, cmd)
			}
		case c == '$' || c == '+' || c == '-' || c == ':':
			// RESP element markers at frame position are out of sync with
			// the stream; drop the line rather than misread it as inline.
			p.sync = true
		default:
			cmd, ok := p.parseInline()
			if !ok {
				break loop
			}
			if cmd != "" {
				cmds = append(cmds, cmd)
			}
		}
	}

	if len(p.buf) > maxPending {
		p.buf = p.buf[:0]
		p.sync = true
	}
	return cmds
}

// parseArray decodes an array frame header plus its first bulk element, the
// command name, and schedules the remaining elements for skipping. It
// returns false when more data is needed; a malformed header flips the
// parser into resync mode and reports success with no command.
func (p *Parser) parseArray() (string, bool) {
	header, n := line(p.buf[1:])
	if n < 0 {
		return "", false
	}
	count, err := strconv.ParseInt(string(header), 10, 64)
	if err != nil || count > maxArrayLen {
		p.sync = true
		return "", true
	}
	rest := p.buf[1+n:]

	// An empty array carries no command.
	if count <= 0 {
		p.buf = rest
		return "", true
	}

	if len(rest) == 0 {
		return "", false
	}
	if rest[0] != '$' {
		p.sync = true
		return "", true
	}
	blheader, bn := line(rest[1:])
	if bn < 0 {
		return "", false
	}
	blen, err := strconv.ParseInt(string(blheader), 10, 64)
	if err != nil || blen < 0 || blen > maxBulkLen {
		p.sync = true
		return "", true
	}
	body := rest[1+bn:]
	need := int(blen) + 2

	// A name longer than the pending cap is not a command worth naming;
	// consume the frame without emitting.
	if need > maxPending {
		p.buf = body
		p.skip = need
		p.elems = int(count) - 1
		return "", true
	}

	if len(body) < need {
		return "", false
	}
	if body[blen] != '\r' || body[blen+1] != '\n' {
		p.sync = true
		return "", true
	}

	name := strings.ToUpper(string(body[:blen]))
	p.buf = body[need:]
	p.elems = int(count) - 1
	return name, true
}

// skipElement discards one trailing element of the current frame. Element
// payloads are consumed through the skip counter so their bytes are never
// retained. Returns false when more data is needed.
func (p *Parser) skipElement() bool {
	if len(p.buf) == 0 {
		return false
	}
	switch p.buf[0] {
	case '$':
		header, n := line(p.buf[1:])
		if n < 0 {
			return false
		}
		blen, err := strconv.ParseInt(string(header), 10, 64)
		if err != nil || blen > maxBulkLen {
			p.sync = true
			p.elems = 0
			return true
		}
		p.buf = p.buf[1+n:]
		if blen >= 0 {
			p.skip = int(blen) + 2
		}
		p.elems--
	case '+', '-', ':':
		_, n := line(p.buf[1:])
		if n < 0 {
			return false
		}
		p.buf = p.buf[1+n:]
		p.elems--
	default:
		p.sync = true
		p.elems = 0
	}
	return true
}

// parseInline decodes one inline command line. The first whitespace
// separated token is the command; a blank line carries none.
func (p *Parser) parseInline() (string, bool) {
	l, n := line(p.buf)
	if n < 0 {
		return "", false
	}
	p.buf = p.buf[n:]
	fields := bytes.Fields(l)
	if len(fields) == 0 {
		return "", true
	}
	return strings.ToUpper(string(fields[0])), true
}

// line splits the leading CRLF-terminated line off b, returning its content
// and total consumed length including the terminator, or -1 when no
// complete line is buffered yet.
func line(b []byte) ([]byte, int) {
	i := bytes.Index(b, []byte("\r\n"))
	if i < 0 {
		return nil, -1
	}
	return b[:i], i + 2
}
