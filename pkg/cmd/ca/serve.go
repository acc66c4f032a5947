package ca

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	servePlainText bool
	serveListen    string
)

func init() {
	ServeCmd.Flags().BoolVar(&servePlainText, "plain-text", false, "Serve plain HTTP instead of TLS")
	ServeCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address, defaults to the ca-listen setting")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the CA service",
	Long: `Serves the CA bundle, the CRL, certificate requests, signed certificates
and renewals over HTTPS. A server certificate for the host's certname is
issued from the CA when the host has none.`,
	RunE: func(cmd *cobra.Command, args []string) error {

		authority, err := loadCA()
		if err != nil {
			return err
		}
		if serveListen != "" {
			App.Settings.CAListen = serveListen
		}
		server, err := App.CAServer(authority, servePlainText)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errs := make(chan error, 1)
		go func() {
			errs <- server.ListenAndServe()
		}()

		select {
		case err := <-errs:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errs
	},
}
