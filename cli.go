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

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"celestium/config"
	"celestium/core"
	"celestium/metrics"
	"celestium/relay"
	"celestium/storage"
	"celestium/streamsync"
)

var cfg *config.Config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "celestium",
		Short: "Celestium is a UTXO ledger, wallet, and pixel-canvas relay.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
		},
	}
	config.BindFlags(root)

	root.AddCommand(
		newCreateWalletCmd(),
		newBalanceCmd(),
		newSendCmd(),
		newMintCmd(),
		newMineCmd(),
		newServeRelayCmd(),
		newSyncCmd(),
	)
	return root
}

func openArchive() (*storage.Archive, error) {
	return storage.Open(cfg.BoltPath)
}

func loadWallet(a *storage.Archive) (*core.Wallet, error) {
	return a.LoadWallet(
		cfg.MinerThreads,
		cfg.DifficultyTarget(),
		cfg.BlockSubsidyValue(),
		cfg.ReloadUnspentOutputs,
		cfg.ReloadNFTLookups,
		cfg.IgnoreOffChainTransactions,
	)
}

func withWallet(fn func(a *storage.Archive, w *core.Wallet) error) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := loadWallet(a)
	if err != nil {
		return err
	}
	if err := fn(a, w); err != nil {
		return err
	}
	return a.SaveWallet(w)
}

func newCreateWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "createwallet",
		Short: "Generate (or reuse) the archive's keypair and print its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(func(a *storage.Archive, w *core.Wallet) error {
				fmt.Printf("public key: %x\n", w.KeyPair.PK)
				fmt.Printf("short id:   %s\n", core.ShortID(w.KeyPair.PK))
				return nil
			})
		},
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Print the wallet's spendable dust balance and owned NFT ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(func(a *storage.Archive, w *core.Wallet) error {
				fmt.Printf("balance: %s dust\n", w.GetBalance().String())
				for _, id := range w.NFTs() {
					fmt.Printf("nft:     %x\n", id)
				}
				return nil
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	var toHex string
	var amount int64
	var fee int64
	var mineNow bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Pay amount dust (plus fee) to a public key, optionally mining it immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := parsePublicKey(toHex)
			if err != nil {
				return err
			}
			return withWallet(func(a *storage.Archive, w *core.Wallet) error {
				tx, err := w.NewPayment(dst, big.NewInt(amount), big.NewInt(fee))
				if err != nil {
					return err
				}
				hash, err := tx.Hash()
				if err != nil {
					return err
				}
				fmt.Printf("queued transaction %x\n", hash)
				if mineNow {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
					defer cancel()
					block, err := w.MineBlock(ctx, 1)
					if err != nil {
						return err
					}
					fmt.Printf("mined at height %d\n", w.Chain.Height())
					_ = block
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&toHex, "to", "", "recipient public key, hex-encoded")
	cmd.Flags().Int64Var(&amount, "amount", 0, "dust to send")
	cmd.Flags().Int64Var(&fee, "fee", 0, "dust fee offered to the finder")
	cmd.Flags().BoolVar(&mineNow, "mine", false, "mine the payment into its own block immediately")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newMintCmd() *cobra.Command {
	var x, y uint16
	var colorIdx uint8

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a pixel-canvas NFT for (x, y, color) against the chain's current head",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(func(a *storage.Archive, w *core.Wallet) error {
				headHash := w.Chain.HeadHash()
				backPointer := core.HashPixel(headHash[:])

				var message [core.BaseMessageLen]byte
				copy(message[:core.PixelHashLen], backPointer[:])
				message[core.PixelHashLen] = byte(x >> 8)
				message[core.PixelHashLen+1] = byte(x)
				message[core.PixelHashLen+2] = byte(y >> 8)
				message[core.PixelHashLen+3] = byte(y)
				message[core.PixelHashLen+4] = colorIdx

				id := core.HashTransaction(message[:])
				output := core.TransactionOutput{Value: core.NewIDValue(id), PK: w.KeyPair.PK}
				tx, err := core.NewIDBaseTransaction(headHash, message, output)
				if err != nil {
					return err
				}
				// A base transaction carries no conservation check of its
				// own, so spec §4.6 requires it to clear a proof-of-work
				// bar before it is relayed — mine it into its own block
				// rather than queuing it unconfirmed.
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if _, err := w.MineTransaction(ctx, 1, tx); err != nil {
					return err
				}
				nftID, _ := output.Value.ID()
				fmt.Printf("mined pixel mint for (%d, %d) color %d at height %d, nft id %x\n", x, y, colorIdx, w.Chain.Height(), nftID)
				return nil
			})
		},
	}
	cmd.Flags().Uint16Var(&x, "x", 0, "pixel column, 0-999")
	cmd.Flags().Uint16Var(&y, "y", 0, "pixel row, 0-999")
	cmd.Flags().Uint8Var(&colorIdx, "color", 0, "palette index, 0-56")
	return cmd
}

func newMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Mine every pending off-chain transaction into a new block",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(func(a *storage.Archive, w *core.Wallet) error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				block, err := w.MineBlock(ctx, 1)
				if err != nil {
					return err
				}
				fmt.Printf("mined block at height %d with %d transactions\n", w.Chain.Height(), len(block.Transactions))
				return nil
			})
		},
	}
}

func newServeRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-relay",
		Short: "Run the pixel-canvas relay and metrics HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArchive()
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := loadWallet(a)
			if err != nil {
				return err
			}

			server := relay.NewServer(w, cfg.RelayTollValue())

			mux := http.NewServeMux()
			mux.Handle("/relay", server)
			mux.Handle("/metrics", metrics.Handler())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			go server.RunMiner(ctx, 10*time.Second)

			httpServer := &http.Server{Addr: cfg.RelayBindAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			fmt.Printf("relay listening on %s\n", cfg.RelayBindAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return a.SaveWallet(w)
		},
	}
}

func newSyncCmd() *cobra.Command {
	var addr string
	var listen bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange the local chain with a peer over a plain TCP connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(func(a *storage.Archive, w *core.Wallet) error {
				if listen {
					return runSyncServer(addr, w)
				}
				return runSyncClient(addr, w)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9797", "peer address to dial or bind")
	cmd.Flags().BoolVar(&listen, "listen", false, "accept an incoming sync instead of dialing out")
	return cmd
}

func runSyncClient(addr string, w *core.Wallet) error {
	conn, err := streamsync.Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := streamsync.SendChain(conn, w.Chain.Blocks()); err != nil {
		return err
	}
	blocks, err := streamsync.ReceiveChain(conn, w.Chain.AddBlockBytesAt)
	if err != nil {
		return err
	}
	fmt.Printf("received %d blocks; chain now at height %d\n", len(blocks), w.Chain.Height())
	return nil
}

func runSyncServer(addr string, w *core.Wallet) error {
	ln, err := streamsync.Listen(addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	fmt.Printf("waiting for a sync peer on %s\n", addr)
	return streamsync.Serve(ln, func(conn net.Conn) {
		defer conn.Close()
		blocks, err := streamsync.ReceiveChain(conn, w.Chain.AddBlockBytesAt)
		if err != nil {
			fmt.Printf("sync peer error: %v\n", err)
			return
		}
		if err := streamsync.SendChain(conn, w.Chain.Blocks()); err != nil {
			fmt.Printf("sync peer error: %v\n", err)
			return
		}
		fmt.Printf("synced %d incoming blocks; chain now at height %d\n", len(blocks), w.Chain.Height())
	})
}

func parsePublicKey(s string) (core.PublicKey, error) {
	var pk core.PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(raw) != core.PublicKeyLen {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", core.PublicKeyLen, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}
