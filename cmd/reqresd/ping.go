package main

import (
	"context"
	"fmt"
	"time"

	"github.com/insthync/reqres/client"
	"github.com/insthync/reqres/config"
	"github.com/insthync/reqres/loadbalance"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pingAddr  string
	pingCount int
	pingText  string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect as a peer and send echo requests to the authority",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()
		return ping(cmd.Context(), cfg, log)
	},
}

func init() {
	pingCmd.Flags().StringVar(&pingAddr, "addr", "", "authority address; discovered through the registry when empty")
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 3, "number of echo requests")
	pingCmd.Flags().StringVar(&pingText, "text", "ping", "echo payload")
	rootCmd.AddCommand(pingCmd)
}

func ping(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, closeRegistry, err := openRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer closeRegistry()
	bal, err := loadbalance.New(cfg.Balancer)
	if err != nil {
		return err
	}

	cl := client.New(reg, bal,
		client.WithLogger(log),
		client.WithCodec(cfg.Codec),
		client.WithVersion(cfg.Version),
		client.WithHeartbeat(cfg.Heartbeat))
	m := manager.New(cl, manager.WithLogger(log), manager.WithTimeouts(cfg.AuthorityTimeout, cfg.PeerTimeout))
	registerAPI(m)

	if pingAddr != "" {
		err = cl.Dial(ctx, pingAddr)
	} else {
		err = cl.Connect(ctx, cfg.Realm)
	}
	if err != nil {
		return err
	}
	defer cl.Close()

	for i := range pingCount {
		start := time.Now()
		res, err := manager.PeerSendRequestAsync[EchoResponse](ctx, m, TagEcho, &EchoRequest{Text: pingText}, nil, 0)
		if err != nil {
			return err
		}
		if res.Code != message.Success {
			return fmt.Errorf("echo %d: %s", i, res.Code)
		}
		fmt.Printf("echo %d from %s: %q in %s\n", i, cl.ID(), res.Response.Text, time.Since(start))
	}
	return nil
}
