package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/ray1422/mcprtc/config"
	"github.com/ray1422/mcprtc/peer"
	"github.com/ray1422/mcprtc/signaling"
	"github.com/ray1422/mcprtc/signaling/grpcsig"
	"github.com/ray1422/mcprtc/signaling/mqttsig"
	"github.com/ray1422/mcprtc/signaling/wssig"
	"github.com/ray1422/mcprtc/toolrpc"
	"github.com/ray1422/mcprtc/transport"
	"github.com/spf13/cobra"
)

var clientFlags struct {
	server  string
	token   string
	session string
	name    string
	timeout time.Duration
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a server, list its tools and call greet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if clientFlags.server != "" {
			cfg.Signaling.Addr = clientFlags.server
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, clientFlags.timeout)
		defer cancel()

		sig, err := dialSignaling(ctx, cfg)
		if err != nil {
			return err
		}
		return runClient(ctx, sig, cfg.PeerOptions(), clientFlags.name, cmd.OutOrStdout())
	},
}

func init() {
	clientCmd.Flags().StringVar(&clientFlags.server, "server", "", "signaling address of the server")
	clientCmd.Flags().StringVar(&clientFlags.token, "token", "", "session token printed by a grpc server")
	clientCmd.Flags().StringVar(&clientFlags.session, "session", "", "session id printed by an mqtt server")
	clientCmd.Flags().StringVar(&clientFlags.name, "name", "world", "who to greet")
	clientCmd.Flags().DurationVar(&clientFlags.timeout, "timeout", time.Minute, "give up after this long")
}

func dialSignaling(ctx context.Context, cfg *config.Config) (signaling.Channel, error) {
	switch cfg.Signaling.Kind {
	case config.SignalingGRPC:
		if clientFlags.token == "" {
			return nil, fmt.Errorf("--token is required for grpc signaling")
		}
		return grpcsig.Dial(ctx, cfg.Signaling.Addr, clientFlags.token)
	case config.SignalingWebSocket:
		return wssig.Dial(ctx, cfg.Signaling.Addr, nil)
	case config.SignalingMQTT:
		if clientFlags.session == "" {
			return nil, fmt.Errorf("--session is required for mqtt signaling")
		}
		return mqttsig.Dial(mqttsig.Config{
			Broker:   cfg.Signaling.MQTT.Broker,
			Username: cfg.Signaling.MQTT.Username,
			Password: cfg.Signaling.MQTT.Password,
			Prefix:   cfg.Signaling.MQTT.Prefix,
			Session:  clientFlags.session,
		}), nil
	}
	return nil, fmt.Errorf("unknown signaling kind %q", cfg.Signaling.Kind)
}

// runClient lists the server's tools and greets name.
func runClient(ctx context.Context, sig signaling.Channel, opts peer.Options, name string, out io.Writer) error {
	t, err := transport.NewClient(transport.Options{Signaling: sig, Peer: opts})
	if err != nil {
		return err
	}
	c := toolrpc.NewClient("rtcdemo", "0.1.0")
	if err := c.Connect(ctx, t); err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(out, "connected to %s %s\n", c.ServerInfo.Name, c.ServerInfo.Version)

	tools, err := c.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		fmt.Fprintf(out, "tool %s: %s\n", tool.Name, tool.Description)
	}

	res, err := c.CallTool(ctx, "greet", map[string]string{"name": name})
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("greet failed: %s", res.Text())
	}
	fmt.Fprintln(out, res.Text())
	return nil
}
