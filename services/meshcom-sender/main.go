package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd sestaví CLI. Každé volání má vlastní Options (testy).
func newRootCmd() *cobra.Command {
	opts := DefaultOptions()
	var verbose bool

	cmd := &cobra.Command{
		Use:   "meshcom-sender",
		Short: "Posílá testovací MeshCom datagramy na UDP listener",
		Long: `Sestaví JSON datagram ve tvaru MeshCom uzlu a pošle ho na listener.

Příklady:
  meshcom-sender --msg "Hello *world*" --dst 232
  meshcom-sender --type pos --field lat=48.2 --field long=16.3 --field alt=512
  meshcom-sender --raw 'not json' --interval 2s --count 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: level}))

			// SIGINT/SIGTERM ukončí opakované odesílání
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sent, err := Run(ctx, opts, logger)
			if err != nil {
				logger.Error("Odesílání selhalo", "sent", sent, "error", err)
				return err
			}
			logger.Info("Hotovo", "sent", sent)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Host, "host", opts.Host, "cílová adresa listeneru (env MESHCOM_HOST)")
	f.IntVarP(&opts.Port, "port", "p", opts.Port, "cílový UDP port (env MESHCOM_PORT)")
	f.StringVarP(&opts.Type, "type", "t", opts.Type, "hodnota pole type")
	f.StringVar(&opts.Src, "src", opts.Src, "odesílatel, případně cesta oddělená čárkami (env MESHCOM_SRC)")
	f.StringVar(&opts.Dst, "dst", opts.Dst, "cíl (skupina nebo značka)")
	f.StringVarP(&opts.Msg, "msg", "m", opts.Msg, "text zprávy")
	f.StringToStringVarP(&opts.Fields, "field", "f", nil, "další pole klíč=hodnota, JSON hodnoty se převedou (lze opakovat)")
	f.StringVar(&opts.Raw, "raw", "", "pošle tento text beze změny místo sestaveného JSONu")
	f.DurationVarP(&opts.Interval, "interval", "i", 0, "opakovat s tímto intervalem (např. 5s)")
	f.IntVarP(&opts.Count, "count", "n", opts.Count, "počet datagramů s --interval, 0 = do Ctrl+C")
	f.BoolVarP(&verbose, "verbose", "v", false, "logovat i obsah datagramů")

	return cmd
}
