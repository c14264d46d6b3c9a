package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postalsys/carelay/internal/config"
	"github.com/postalsys/carelay/internal/service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the carelay systemd service",
	}

	cmd.AddCommand(serviceInstallCmd())
	cmd.AddCommand(serviceUninstallCmd())
	cmd.AddCommand(serviceStatusCmd())

	return cmd
}

func serviceInstallCmd() *cobra.Command {
	var (
		configPath string
		name       string
		user       string
		group      string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install and start carelay as a systemd service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsSupported() {
				return fmt.Errorf("service installation is only supported on Linux")
			}

			// Refuse to install a unit that would fail on start.
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			svc := service.DefaultConfig(configPath)
			svc.Name = name
			svc.User = user
			svc.Group = group

			if err := service.Install(svc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service %s relays port %d to %s\n",
				svc.Name, cfg.Relay.ListenPort, cfg.Relay.ForwardAddress)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/carelay/config.yaml", "Path to configuration file")
	cmd.Flags().StringVarP(&name, "name", "n", "carelay", "Service name")
	cmd.Flags().StringVar(&user, "user", "", "Run the service as this user")
	cmd.Flags().StringVar(&group, "group", "", "Run the service as this group")

	return cmd
}

func serviceUninstallCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the systemd service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return service.Uninstall(name)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "carelay", "Service name")

	return cmd
}

func serviceStatusCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the systemd service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			status, err := service.Status(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "carelay", "Service name")

	return cmd
}
