// Copyright 2021 Hailiang Zhao <hliangzhao@zju.edu.cn>
// This file is part of the lightChain.
//
// The lightChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lightChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lightChain. If not, see <http://www.gnu.org/licenses/>.

/*
Package streamsync transfers a chain as a single ordered byte stream: no
gossip, no inventory negotiation, no fork resolution (spec's Non-goals
rule those out — the chain here is linear and received whole). This is
the teacher's network package (lightChain/network) stripped down to just
its TCP dial/listen/send skeleton: the version/addr/inv/getblocks command
switch is gone because there is nothing to negotiate, only a sequence of
canonical-encoded blocks to send or receive.
*/
package streamsync

import (
	"bufio"
	"errors"
	"io"
	"net"

	"celestium/core"
)

const protocol = "tcp"

// SendChain writes every block in blocks to conn, canonical-encoded and
// back to back, terminated by core.EndMarker (spec §6).
func SendChain(conn io.Writer, blocks []*core.Block) error {
	w := bufio.NewWriter(conn)
	for _, block := range blocks {
		encoded, err := core.Encode(block)
		if err != nil {
			return err
		}
		if _, err := w.Write(encoded); err != nil {
			return err
		}
	}
	if _, err := w.Write(core.EndMarker[:]); err != nil {
		return err
	}
	return w.Flush()
}

// ReceiveChain reads a concatenated block stream from conn until
// core.EndMarker is reached (spec §6) — the marker, not connection
// closure, terminates the stream, since a sync peer keeps its connection
// open to send its own chain back afterward. decodeNext decodes exactly
// one block starting at *cur and advances the cursor past it; callers
// pass core.Blockchain.AddBlockBytesAt (or a thin wrapper around it)
// bound to their own chain, since framing alone can't know how to
// resolve a block's inputs. Reading grows the buffer incrementally
// rather than buffering the whole stream with io.ReadAll up front,
// requesting more bytes from conn only when decodeNext reports the
// buffered data is too short to hold the next block or the marker.
func ReceiveChain(conn io.Reader, decodeNext func(raw []byte, cur *int) (*core.Block, error)) ([]*core.Block, error) {
	r := bufio.NewReader(conn)
	var raw []byte
	var blocks []*core.Block
	cur := 0

	readMore := func() error {
		chunk := make([]byte, 4096)
		n, err := r.Read(chunk)
		raw = append(raw, chunk[:n]...)
		if n == 0 && err != nil {
			return err
		}
		return nil
	}

	for {
		for cur+len(core.EndMarker) > len(raw) {
			if err := readMore(); err != nil {
				return nil, err
			}
		}
		var marker [4]byte
		copy(marker[:], raw[cur:cur+4])
		if marker == core.EndMarker {
			return blocks, nil
		}

		for {
			block, err := decodeNext(raw, &cur)
			if err == nil {
				blocks = append(blocks, block)
				break
			}
			if !errors.Is(err, core.ErrTruncated) {
				return nil, err
			}
			if err := readMore(); err != nil {
				return nil, err
			}
		}
	}
}

// Dial opens a TCP connection to addr the way StartNode's client side
// did, minus the version handshake this package has no use for.
func Dial(addr string) (net.Conn, error) {
	return net.Dial(protocol, addr)
}

// Listen opens a TCP listener on addr for Serve to accept connections on.
func Listen(addr string) (net.Listener, error) {
	return net.Listen(protocol, addr)
}

// Serve accepts connections on ln and calls handle for each, the way the
// teacher's StartNode loop called handleConn per accepted connection.
func Serve(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go handle(conn)
	}
}
