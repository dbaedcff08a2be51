package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/theapemachine/errnie"
	"github.com/theapemachine/qshard/wsnet"
)

func newHubCmd() *cobra.Command {
	var (
		addr string
		size int
	)

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Route messages between the ranks of a multi-process run",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub, err := wsnet.NewHub(size)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			server := &http.Server{Addr: addr, Handler: hub}
			go func() {
				<-ctx.Done()
				hub.Close()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdown)
			}()

			errnie.Info("hub for %d ranks listening on %s, session %s", size, addr, hub.Session())

			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&size, "size", 2, "number of ranks, a power of two")

	return cmd
}
