package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/carelay/internal/wizard"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Long: `Ask for the relay settings and write a configuration file.

The forward address is offered from the broadcast addresses of this host's
IPv4 networks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("init needs an interactive terminal; write the config file by hand instead")
			}
			cmd.SilenceUsage = true

			_, err := wizard.New().Run()
			return err
		},
	}
}
