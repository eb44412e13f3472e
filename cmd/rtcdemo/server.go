package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/ray1422/mcprtc/config"
	"github.com/ray1422/mcprtc/peer"
	"github.com/ray1422/mcprtc/signaling"
	"github.com/ray1422/mcprtc/signaling/grpcsig"
	"github.com/ray1422/mcprtc/signaling/mqttsig"
	"github.com/ray1422/mcprtc/signaling/wssig"
	"github.com/ray1422/mcprtc/transport"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serverFlags struct {
	listen string
	secret string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the greet tool to one client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serverFlags.listen != "" {
			cfg.Signaling.Addr = serverFlags.listen
		}
		if serverFlags.secret != "" {
			cfg.Signaling.Secret = serverFlags.secret
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runServer(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	serverCmd.Flags().StringVar(&serverFlags.listen, "listen", "", "signaling listen address")
	serverCmd.Flags().StringVar(&serverFlags.secret, "secret", "", "secret signing session tokens")
}

func runServer(ctx context.Context, cfg *config.Config, out io.Writer) error {
	switch cfg.Signaling.Kind {
	case config.SignalingGRPC:
		if cfg.Signaling.Secret == "" {
			return errors.New("grpc signaling needs a secret")
		}
		lis, err := net.Listen("tcp", cfg.Signaling.Addr)
		if err != nil {
			return err
		}
		return serveGRPC(ctx, cfg, lis, out)
	case config.SignalingWebSocket:
		return serveWebSocket(ctx, cfg, out)
	case config.SignalingMQTT:
		session := mqttsig.NewSession()
		fmt.Fprintf(out, "session: %s\n", session)
		ch := mqttsig.Dial(mqttsig.Config{
			Broker:    cfg.Signaling.MQTT.Broker,
			Username:  cfg.Signaling.MQTT.Username,
			Password:  cfg.Signaling.MQTT.Password,
			Prefix:    cfg.Signaling.MQTT.Prefix,
			Session:   session,
			Initiator: true,
		})
		return serveSession(ctx, ch, cfg.PeerOptions())
	}
	return fmt.Errorf("unknown signaling kind %q", cfg.Signaling.Kind)
}

// serveGRPC hosts one signaling session on lis and serves it.
func serveGRPC(ctx context.Context, cfg *config.Config, lis net.Listener, out io.Writer) error {
	hub := grpcsig.NewHub(&grpcsig.TokenIssuer{
		Secret: []byte(cfg.Signaling.Secret),
		TTL:    cfg.Signaling.TokenTTL,
	})
	s := grpc.NewServer()
	hub.Register(s)
	go func() {
		if err := s.Serve(lis); err != nil {
			log.Warnf("grpc server stopped: %v", err)
		}
	}()
	defer s.Stop()

	ch, token, err := hub.Open()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "listening on %s\ntoken: %s\n", lis.Addr(), token)
	return serveSession(ctx, ch, cfg.PeerOptions())
}

func serveWebSocket(ctx context.Context, cfg *config.Config, out io.Writer) error {
	accepted := make(chan *wssig.Channel, 1)
	srv := &http.Server{
		Addr: cfg.Signaling.Addr,
		Handler: wssig.Handler(func(ch *wssig.Channel) {
			select {
			case accepted <- ch:
			default:
				log.Warn("rejecting a second websocket peer")
				_ = ch.Close()
			}
		}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("websocket server stopped: %v", err)
		}
	}()
	defer srv.Close()
	fmt.Fprintf(out, "listening on %s\n", cfg.Signaling.Addr)

	select {
	case ch := <-accepted:
		return serveSession(ctx, ch, cfg.PeerOptions())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveSession runs the tool server on one transport until it closes.
func serveSession(ctx context.Context, sig signaling.Channel, opts peer.Options) error {
	t, err := transport.NewServer(transport.Options{Signaling: sig, Peer: opts})
	if err != nil {
		return err
	}
	err = newToolServer().Serve(ctx, t)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
