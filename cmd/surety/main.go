// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxfi/surety/vms/suretyvm/cmd/serve"
	"github.com/luxfi/surety/vms/suretyvm/cmd/simulate"
)

func main() {
	cmd := &cobra.Command{
		Use:           "surety",
		Short:         "Runs the Surety flight insurance VM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		serve.Command(),
		simulate.Command(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "command failed %v\n", err)
		os.Exit(1)
	}
}
