package relay

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"celestium/core"
)

func easyTarget() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 256)
}

func newTestServer(t *testing.T) (*Server, *core.Wallet) {
	t.Helper()
	chain := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	kp, err := core.GenerateKeyPair()
	require.NoError(t, err)
	w := core.NewWallet(chain, kp, 1)
	_, err = w.MineBlock(context.Background(), 1)
	require.NoError(t, err)

	s := NewServer(w, big.NewInt(1))
	return s, w
}

func dialServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close()
		ts.Close()
	}
}

func TestServerReflectsMintedPixelsOntoCanvas(t *testing.T) {
	s, w := newTestServer(t)
	headHash := w.Chain.HeadHash()
	backPointer := core.HashPixel(headHash[:])

	var message [core.BaseMessageLen]byte
	copy(message[:core.PixelHashLen], backPointer[:])
	message[core.PixelHashLen] = 0   // x_hi
	message[core.PixelHashLen+1] = 3 // x_lo
	message[core.PixelHashLen+2] = 0 // y_hi
	message[core.PixelHashLen+3] = 4 // y_lo
	message[core.PixelHashLen+4] = 9 // color index

	id := core.HashTransaction(message[:])
	output := core.TransactionOutput{Value: core.NewIDValue(id), PK: w.KeyPair.PK}
	tx, err := core.NewIDBaseTransaction(headHash, message, output)
	require.NoError(t, err)

	s.applyBlockToCanvas(&core.Block{Transactions: []*core.Transaction{tx}})
	require.Equal(t, byte(9), s.Canvas.Get(3, 4))
}

func TestHandleQueryPixelReturnsCanvasColor(t *testing.T) {
	s, _ := newTestServer(t)
	s.Canvas.Set(1, 2, 5)

	conn, closeFn := dialServer(t, s)
	defer closeFn()

	req := []byte{byte(OpQueryPixel), 0x00, 0x01, 0x00, 0x02}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, req))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{byte(OpPixelColor), 5}, data)
}

func TestHandleRequestChallengeReturnsHeadAndToll(t *testing.T) {
	s, w := newTestServer(t)

	conn, closeFn := dialServer(t, s)
	defer closeFn()

	req := make([]byte, 1+4+core.PublicKeyLen)
	req[0] = byte(OpRequestChallenge)
	copy(req[5:], w.KeyPair.PK[:])
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, req))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(OpChallenge), data[0])

	headHash := w.Chain.HeadHash()
	gotHead := data[1+core.PixelHashLen : 1+core.PixelHashLen+core.BlockHashLen]
	require.Equal(t, headHash[:], gotHead)
}

func TestHandleSubmitPixelAppliesPixelAndCollectsToll(t *testing.T) {
	s, w := newTestServer(t)
	headHash := w.Chain.HeadHash()
	backPointer := core.HashPixel(headHash[:])

	var message [core.BaseMessageLen]byte
	copy(message[:core.PixelHashLen], backPointer[:])
	message[core.PixelHashLen] = 0   // x_hi
	message[core.PixelHashLen+1] = 7 // x_lo
	message[core.PixelHashLen+2] = 0 // y_hi
	message[core.PixelHashLen+3] = 8 // y_lo
	message[core.PixelHashLen+4] = 2 // color index

	id := core.HashTransaction(message[:])
	pixelOutput := core.TransactionOutput{Value: core.NewIDValue(id), PK: w.KeyPair.PK}
	pixelTx, err := core.NewIDBaseTransaction(headHash, message, pixelOutput)
	require.NoError(t, err)

	tollTx, err := w.NewPayment(w.KeyPair.PK, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)

	pixelEncoded, err := core.Encode(pixelTx)
	require.NoError(t, err)
	tollEncoded, err := core.Encode(tollTx)
	require.NoError(t, err)
	body := append(pixelEncoded, tollEncoded...)

	require.NoError(t, s.handleSubmitPixel(body))
	require.Equal(t, byte(2), s.Canvas.Get(7, 8))

	pending := w.MiningDataFromOffChainTransactions()
	require.GreaterOrEqual(t, len(pending), 1)
}

func TestDispatchRejectsUnknownOpcode(t *testing.T) {
	s, _ := newTestServer(t)
	err := s.dispatch(nil, Opcode(0xfe), nil)
	require.Error(t, err)
}
