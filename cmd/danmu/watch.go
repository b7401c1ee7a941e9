package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sadewadee/danmu/internal/api"
	"github.com/sadewadee/danmu/internal/config"
	"github.com/sadewadee/danmu/internal/danmaku"
	"github.com/sadewadee/danmu/internal/output"
	"github.com/sadewadee/danmu/internal/relay"
	"github.com/sadewadee/danmu/internal/status"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "watch [room-id]",
		Short: "Stream chat messages from a live room",
		Long: `Resolve the relay for a room, authenticate and print chat messages
until interrupted. The room id falls back to room.id from the config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if format != "" {
				cfg.Output.Format = format
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			roomID, err := resolveRoomID(args, cfg)
			if err != nil {
				return err
			}

			w, closer := resolveLogOutput(cfg.Logging.Output)
			if closer != nil {
				defer closer.Close()
			}
			logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format, w)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg, roomID, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Override output.format (text, json, msgpack)")

	return cmd
}

func resolveRoomID(args []string, cfg *config.Config) (int64, error) {
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid room id %q", args[0])
		}
		return id, nil
	}
	if cfg.Room.ID <= 0 {
		return 0, errors.New("no room id given and room.id is not set in the config")
	}
	return cfg.Room.ID, nil
}

func newAPIClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.New(api.Options{
		BaseURL:   cfg.API.BaseURL,
		LiveURL:   cfg.API.LiveURL,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout.Duration(),
		Cookies:   cfg.Account.Cookies,
		Logger:    logger,
	})
}

// resolveUser asks the nav endpoint who the cookies belong to and falls
// back to account.uid for anonymous sessions or when the lookup fails.
func resolveUser(ctx context.Context, client *api.Client, cfg *config.Config, logger *slog.Logger) relay.User {
	user, err := client.CurrentUser(ctx)
	if err != nil {
		logger.Warn("could not resolve current user, using configured uid", "uid", cfg.Account.UID, "error", err)
		return relay.User{UID: cfg.Account.UID}
	}
	if user.UID == 0 {
		user.UID = cfg.Account.UID
	}
	return user
}

// runWatch streams roomID to out until ctx is cancelled or the relay
// connection ends.
func runWatch(ctx context.Context, cfg *config.Config, roomID int64, logger *slog.Logger, out io.Writer) error {
	formatter, err := output.NewFormatter(output.Options{
		TimeZone:   cfg.Output.TimeZone,
		TimeLayout: cfg.Output.TimeLayout,
		Unit:       cfg.Output.TimestampUnit,
	})
	if err != nil {
		return err
	}
	sink, err := output.NewSink(out, cfg.Output.Format, formatter)
	if err != nil {
		return err
	}

	client := newAPIClient(cfg, logger)
	user := resolveUser(ctx, client, cfg, logger)

	room, err := client.FetchRoomConnection(ctx, roomID)
	if err != nil {
		return fmt.Errorf("resolving relay for room %d: %w", roomID, err)
	}
	logger.Info("room resolved", "room_id", roomID, "uid", user.UID, "hosts", len(room.Hosts))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	session := relay.NewSession(room, user,
		relay.WithLogger(logger),
		relay.WithMetrics(relay.NewMetrics(reg, "danmu")),
		relay.WithDialer(relay.WSDialer{
			HandshakeTimeout: cfg.Relay.DialTimeout.Duration(),
			WriteTimeout:     cfg.Relay.DialTimeout.Duration(),
		}.Dial),
		relay.WithHostPicker(relay.HostAt(cfg.Relay.HostIndex)),
		relay.WithSecure(cfg.Relay.Secure),
		relay.WithHeartbeatInterval(cfg.Relay.HeartbeatInterval.Duration()),
		relay.WithHandshakeTimeout(cfg.Relay.HandshakeTimeout.Duration()),
		relay.WithMessageHandler(func(m danmaku.Message) {
			if err := sink.Write(m); err != nil {
				logger.Error("writing message", "error", err)
			}
		}),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		srv := status.New(session, status.Options{
			Address:     cfg.Metrics.Address,
			MetricsPath: cfg.Metrics.Path,
			RoomID:      roomID,
			Gatherer:    reg,
			Logger:      logger,
		})
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("status server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		session.Stop()
	}()

	err = session.Start(ctx)
	logger.Info("session closed", "room_id", roomID, "state", session.State().String())
	return err
}
