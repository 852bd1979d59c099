package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/dyadgo/pkg/dyadctx"
	"github.com/cuemby/dyadgo/pkg/interpose"
	"github.com/cuemby/dyadgo/pkg/kvs"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-process single-rank publish+subscribe smoke path",
	Long: `demo exercises the full hook chain end to end inside one process and
one rank: it writes a file under a managed prefix, closes it (triggering
publish), then opens the same user path again (triggering subscribe).
Because producer and consumer share a rank here, ownership resolves to the
local rank and no fetch RPC is issued; the existing file is reused in place
rather than re-fetched. Producer and consumer prefixes are the same
directory, matching the self-ownership case's assumption that the file is
already visible at that path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := os.MkdirTemp("", "dyadgo-demo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(root)

		prodRoot, consRoot := root, root

		dyadctx.Reset()
		defer dyadctx.Reset()

		store := kvs.NewMemStore(0)
		coord, err := dyadctx.New(context.Background(), dyadctx.Config{
			ProducerPrefix: prodRoot,
			ConsumerPrefix: consRoot,
			KeyDepth:       3,
			KeyBins:        1024,
		}, store)
		if err != nil {
			return err
		}
		defer coord.Close()

		hooks := interpose.Hooks{Coordinator: coord}

		userPath := "demo/message.txt"
		prodPath := filepath.Join(prodRoot, userPath)
		if err := os.MkdirAll(filepath.Dir(prodPath), 0o755); err != nil {
			return err
		}

		f, err := hooks.Open(context.Background(), prodPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString("hello from dyadctl demo\n"); err != nil {
			return err
		}
		if err := hooks.Close(context.Background(), f, prodPath, true); err != nil {
			return err
		}
		fmt.Printf("producer: wrote and published %s\n", userPath)

		consPath := filepath.Join(consRoot, userPath)
		cf, err := hooks.Open(context.Background(), consPath, os.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer cf.Close()
		fmt.Printf("consumer: opened %s (self-owned, no fetch RPC issued)\n", userPath)

		return nil
	},
}
