package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func roomCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "room [room-id]",
		Short: "Print the relay connection info for a room",
		Long:  `Fetch the signed relay credentials and host list for a room and print them as JSON.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
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

			room, err := newAPIClient(cfg, logger).FetchRoomConnection(cmd.Context(), roomID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(room)
		},
	}
}
