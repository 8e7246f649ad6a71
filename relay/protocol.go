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
Package relay implements the opcode-first binary WebSocket protocol
between a wallet client and the shared pixel canvas (spec §6). This is
the one external-facing surface the spec treats as an interface only —
there is no equivalent in the teacher, so the wire shape and the
request/response cadence are grounded on the teacher's own accept-loop
(lightChain/network's per-connection goroutine, adapted already in
streamsync.Serve) with gorilla/websocket swapped in for the framing.
*/
package relay

import (
	"image/color"
	"sync"

	"celestium/core"
)

// Opcode identifies a relay protocol frame (spec §6).
type Opcode byte

const (
	OpQueryPixel       Opcode = 0x00 // -> server: x_hi x_lo y_hi y_lo
	OpPixelColor       Opcode = 0x01 // <- server: color_byte
	OpSubmitPixel      Opcode = 0x06 // -> server: pixel_tx || toll_tx
	OpRequestChallenge Opcode = 0x07 // -> server: x_hi x_lo y_hi y_lo pk[33]
	OpChallenge        Opcode = 0x08 // <- server: back_hash[28] head_hash[32] toll_output
)

const (
	// CanvasWidth and CanvasHeight are the pixel canvas dimensions (spec §6).
	CanvasWidth  = 1000
	CanvasHeight = 1000
)

// Palette is the 57-entry RGBA color table every pixel index refers into
// (spec §6: "palette bytes are part of the public contract"). The
// specific 57 values are not named by spec.md or original_source/ beyond
// their count, so this is a fixed, stable assignment recorded as a
// design decision rather than a literal 1:1 port (see DESIGN.md).
var Palette = buildPalette()

func buildPalette() [57]color.RGBA {
	var p [57]color.RGBA
	// A 2-6-6-... HSV sweep gives 57 visually distinct, low-collision
	// swatches without hand-picking each one; index 0 is reserved white
	// and index 1 is reserved black, matching the teacher-adjacent
	// examples' convention of pinning the extremes of a palette table.
	p[0] = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	p[1] = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff}
	for i := 2; i < 57; i++ {
		hue := float64(i-2) / float64(57-2)
		r, g, b := hsvToRGB(hue, 0.65, 0.95)
		p[i] = color.RGBA{R: r, G: g, B: b, A: 0xff}
	}
	return p
}

func hsvToRGB(h, s, v float64) (byte, byte, byte) {
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return byte(r * 255), byte(g * 255), byte(b * 255)
}

// Canvas is the shared 1000x1000 pixel grid, indexed by color byte into
// Palette (spec §6).
type Canvas struct {
	mu     sync.RWMutex
	pixels [CanvasHeight][CanvasWidth]byte
}

// NewCanvas returns an all-white (index 0) canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// Get returns the palette index at (x, y).
func (c *Canvas) Get(x, y uint16) byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(x) >= CanvasWidth || int(y) >= CanvasHeight {
		return 0
	}
	return c.pixels[y][x]
}

// Set paints (x, y) with colorIdx.
func (c *Canvas) Set(x, y uint16, colorIdx byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(x) >= CanvasWidth || int(y) >= CanvasHeight {
		return
	}
	c.pixels[y][x] = colorIdx
}

// PixelFromMessage extracts the (x, y, color) payload a pixel-mint base
// transaction's message carries past its anti-replay back-pointer: bytes
// [0:PixelHashLen] are the back-pointer (checked by
// core.NewIDBaseTransaction), bytes [PixelHashLen:BaseMessageLen] are
// x_hi x_lo y_hi y_lo color_byte (spec §6, "first 32 bytes are
// interpreted by external consumers").
func PixelFromMessage(msg [core.BaseMessageLen]byte) (x, y uint16, colorIdx byte) {
	payload := msg[core.PixelHashLen:]
	x = uint16(payload[0])<<8 | uint16(payload[1])
	y = uint16(payload[2])<<8 | uint16(payload[3])
	colorIdx = payload[4]
	return
}
