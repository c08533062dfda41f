package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return eris.New("reset: refusing to drop data without --yes")
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Reset(ctx); err != nil {
			return err
		}
		zap.L().Info("store reset", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm dropping every company, location and feature")
	rootCmd.AddCommand(resetCmd)
}
