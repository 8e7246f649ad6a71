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

package relay

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"celestium/core"
	"celestium/metrics"
)

var log = logrus.WithField("component", "relay")

// submitPixelMineTimeout bounds how long a single submission waits for its
// base transaction to clear the proof-of-work bar (spec §4.6) before the
// relay gives up and reports an error to the submitter.
const submitPixelMineTimeout = 30 * time.Second

// Server speaks the opcode-first binary WebSocket protocol of spec §6:
// pixel color lookups, mining-challenge issuance, and submission of a
// mined pixel mint paired with its toll payment. It owns a wallet (the
// relay operator's own) to collect tolls and batch submissions into
// mined blocks, and a Canvas mirroring every pixel mint applied so far.
type Server struct {
	Wallet     *core.Wallet
	Canvas     *Canvas
	TollAmount *big.Int

	upgrader websocket.Upgrader
}

// NewServer builds a relay fronting wallet with toll as the required
// payment (in dust) accompanying every pixel submission, replaying the
// wallet's chain into Canvas so a freshly started relay reflects
// whatever pixels are already on-chain.
func NewServer(wallet *core.Wallet, toll *big.Int) *Server {
	s := &Server{
		Wallet:     wallet,
		Canvas:     NewCanvas(),
		TollAmount: toll,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	for _, block := range wallet.Chain.Blocks() {
		s.applyBlockToCanvas(block)
	}
	return s
}

func (s *Server) applyBlockToCanvas(block *core.Block) {
	for _, tx := range block.Transactions {
		if tx.IsBase() && tx.BaseMessage != nil {
			x, y, colorIdx := PixelFromMessage(*tx.BaseMessage)
			s.Canvas.Set(x, y, colorIdx)
		}
	}
}

// ServeHTTP upgrades the connection and dispatches frames on a dedicated
// goroutine per session, the shape of the teacher's per-connection
// accept loop (adapted into streamsync.Serve for the plain-TCP path;
// here gorilla/websocket supplies the framing instead).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("upgrade failed: %v", err)
		return
	}
	sessionID := uuid.NewString()
	entry := log.WithField("session", sessionID)
	entry.Debug("relay session opened")
	go s.handleConn(conn, entry)
}

func (s *Server) handleConn(conn *websocket.Conn, entry *logrus.Entry) {
	defer func() {
		_ = conn.Close()
		entry.Debug("relay session closed")
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := s.dispatch(conn, Opcode(data[0]), data[1:]); err != nil {
			entry.Debugf("opcode 0x%02x: %v", data[0], err)
		}
	}
}

func (s *Server) dispatch(conn *websocket.Conn, op Opcode, body []byte) error {
	switch op {
	case OpQueryPixel:
		return s.handleQueryPixel(conn, body)
	case OpRequestChallenge:
		return s.handleRequestChallenge(conn, body)
	case OpSubmitPixel:
		return s.handleSubmitPixel(body)
	default:
		return wrapUnknownOpcode(op)
	}
}

func (s *Server) handleQueryPixel(conn *websocket.Conn, body []byte) error {
	if len(body) < 4 {
		return core.ErrTruncated
	}
	x := uint16(body[0])<<8 | uint16(body[1])
	y := uint16(body[2])<<8 | uint16(body[3])
	resp := []byte{byte(OpPixelColor), s.Canvas.Get(x, y)}
	return conn.WriteMessage(websocket.BinaryMessage, resp)
}

func (s *Server) handleRequestChallenge(conn *websocket.Conn, body []byte) error {
	if len(body) < 4+core.PublicKeyLen {
		return core.ErrTruncated
	}
	headHash := s.Wallet.Chain.HeadHash()
	backHash := core.HashPixel(headHash[:])
	tollValue, err := core.NewCoinValue(s.TollAmount, big.NewInt(0))
	if err != nil {
		return err
	}
	tollOutput := core.TransactionOutput{Value: tollValue, PK: s.Wallet.KeyPair.PK}
	tollEncoded, err := core.Encode(tollOutput)
	if err != nil {
		return err
	}

	resp := make([]byte, 0, 1+core.PixelHashLen+core.BlockHashLen+len(tollEncoded))
	resp = append(resp, byte(OpChallenge))
	resp = append(resp, backHash[:]...)
	resp = append(resp, headHash[:]...)
	resp = append(resp, tollEncoded...)
	return conn.WriteMessage(websocket.BinaryMessage, resp)
}

func (s *Server) handleSubmitPixel(body []byte) error {
	cur := 0
	pixelTx, err := core.TransactionFromSerialized(body, &cur, nil)
	if err != nil {
		return err
	}
	tollTx, err := core.TransactionFromSerialized(body, &cur, s.Wallet.Chain.LookupOutput)
	if err != nil {
		return err
	}
	if cur != len(body) {
		return core.ErrMalformed
	}
	if !pixelTx.IsBase() {
		return core.ErrMalformedBaseMessage
	}
	if err := pixelTx.Verify(); err != nil {
		return err
	}
	if err := tollTx.Verify(); err != nil {
		return err
	}

	// A base transaction carries no conservation check of its own, so
	// spec §4.6 requires it to clear a proof-of-work bar before the
	// network will relay it — mine it into its own block rather than
	// merely queuing it unconfirmed the way the toll payment is.
	ctx, cancel := context.WithTimeout(context.Background(), submitPixelMineTimeout)
	defer cancel()
	if _, err := s.Wallet.MineTransaction(ctx, 1, pixelTx); err != nil {
		return err
	}
	x, y, colorIdx := PixelFromMessage(*pixelTx.BaseMessage)
	s.Canvas.Set(x, y, colorIdx)

	return s.Wallet.AddOffChainTransaction(tollTx)
}

// RunMiner periodically batches whatever transactions have accumulated
// off-chain (the toll payments handleSubmitPixel queues) into a mined
// block, then applies any pixel mints in that block onto Canvas. Pixel
// mints submitted through handleSubmitPixel are already mined in their
// own block and painted before that call returns.
func (s *Server) RunMiner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(s.Wallet.MiningDataFromOffChainTransactions()) == 0 {
				continue
			}
			start := time.Now()
			block, err := s.Wallet.MineBlock(ctx, 1)
			if err != nil {
				log.Debugf("mining pass: %v", err)
				continue
			}
			metrics.ObserveHashrate(s.Wallet.Miner.Attempts(), time.Since(start))
			metrics.ObserveWallet(s.Wallet)
			s.applyBlockToCanvas(block)
			log.Debugf("mined block at height %d with %d transactions", s.Wallet.Chain.Height(), len(block.Transactions))
		}
	}
}

func wrapUnknownOpcode(op Opcode) error {
	return &core.Error{Category: core.CategoryCodec, Kind: core.KindMalformed, Msg: fmt.Sprintf("unknown relay opcode 0x%02x", byte(op))}
}
