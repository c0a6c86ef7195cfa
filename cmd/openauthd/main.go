// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Command openauthd runs the OpenID Connect authorization server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openauthd/openauthd/pkg/authserver"
	"github.com/openauthd/openauthd/pkg/logger"
)

func main() {
	logger.Initialize()

	var configFile string

	rootCmd := &cobra.Command{
		Use:          "openauthd",
		Short:        "OpenID Connect authorization server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "openauthd.yaml", "path to the configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := authserver.LoadConfig(configFile)
	if err != nil {
		return err
	}

	srv, err := authserver.New(ctx, cfg)
	if err != nil {
		return err
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
