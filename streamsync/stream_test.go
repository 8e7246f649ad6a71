package streamsync

import (
	"bytes"
	"context"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"celestium/core"
)

func easyTarget() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 256)
}

func mineGenesis(t *testing.T, chain *core.Blockchain, finder core.PublicKey) *core.Block {
	t.Helper()
	block := &core.Block{Version: 1, BackHash: chain.HeadHash(), Finder: finder}
	miner := core.NewMiner(1)
	mined, err := miner.MineBlock(context.Background(), chain.DifficultyTarget, block)
	require.NoError(t, err)
	return mined
}

func applyMined(t *testing.T, chain *core.Blockchain, block *core.Block) {
	t.Helper()
	encoded, err := core.Encode(block)
	require.NoError(t, err)
	cur := 0
	_, err = chain.AddBlockBytesAt(encoded, &cur)
	require.NoError(t, err)
}

func TestSendChainThenReceiveChainRoundTrips(t *testing.T) {
	chain := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	kp, err := core.GenerateKeyPair()
	require.NoError(t, err)

	block := mineGenesis(t, chain, kp.PK)
	encoded, err := core.Encode(block)
	require.NoError(t, err)
	cur := 0
	_, err = chain.AddBlockBytesAt(encoded, &cur)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, SendChain(&buf, chain.Blocks()))

	receiver := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	blocks, err := ReceiveChain(&buf, receiver.AddBlockBytesAt)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, 1, receiver.Height())
	require.Equal(t, chain.HeadHash(), receiver.HeadHash())
}

func TestReceiveChainRejectsTrailingGarbageBeforeEndMarker(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	chain := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	_, err := ReceiveChain(buf, chain.AddBlockBytesAt)
	require.Error(t, err)
}

func TestListenAndDialEstablishConnection(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		_ = Serve(ln, func(conn net.Conn) {
			close(accepted)
			_ = conn.Close()
		})
	}()

	conn, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-accepted
}

// TestSyncOverLiveConnectionDoesNotDeadlock exercises SendChain/ReceiveChain
// on both ends of a real, not-yet-closed TCP connection the way cli.go's
// runSyncClient/runSyncServer do: each side sends its chain then receives
// the peer's, never closing the connection first. A ReceiveChain that
// buffers the whole stream with io.ReadAll would hang here forever waiting
// for EOF, since neither side closes until after it has already received.
func TestSyncOverLiveConnectionDoesNotDeadlock(t *testing.T) {
	clientKp, err := core.GenerateKeyPair()
	require.NoError(t, err)
	serverKp, err := core.GenerateKeyPair()
	require.NoError(t, err)

	// Each side's outgoing chain is built independently from genesis — a
	// peer's decode target is always a fresh chain, the way a node first
	// meeting a peer has nothing of its own yet to reconcile against.
	clientChain := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	applyMined(t, clientChain, mineGenesis(t, clientChain, clientKp.PK))

	serverChain := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	applyMined(t, serverChain, mineGenesis(t, serverChain, serverKp.PK))

	serverRecv := core.NewBlockchain(easyTarget(), big.NewInt(1337))
	clientRecv := core.NewBlockchain(easyTarget(), big.NewInt(1337))

	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan []*core.Block, 1)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- Serve(ln, func(conn net.Conn) {
			defer conn.Close()
			blocks, err := ReceiveChain(conn, serverRecv.AddBlockBytesAt)
			if err != nil {
				serverErr <- err
				return
			}
			if err := SendChain(conn, serverChain.Blocks()); err != nil {
				serverErr <- err
				return
			}
			serverDone <- blocks
		})
	}()

	conn, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, SendChain(conn, clientChain.Blocks()))

	done := make(chan struct{})
	var clientBlocks []*core.Block
	var clientErr error
	go func() {
		clientBlocks, clientErr = ReceiveChain(conn, clientRecv.AddBlockBytesAt)
		close(done)
	}()

	select {
	case blocks := <-serverDone:
		require.Len(t, blocks, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("server side of sync deadlocked waiting for ReceiveChain")
	}

	select {
	case <-done:
		require.NoError(t, clientErr)
		require.Len(t, clientBlocks, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("client side of sync deadlocked waiting for ReceiveChain")
	}
}
