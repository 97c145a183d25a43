package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foolscrate/foolscrate/internal/svc"
)

var (
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
	logsFollow        bool
	logsLines         int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the foolscrate system service",
		Long: `Install, control, and manage the foolscrate agent as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  # Install the agent service
  sudo foolscrate service install --config /etc/foolscrate/agent.yaml

  # Control the service
  sudo foolscrate service start
  sudo foolscrate service stop
  sudo foolscrate service status

  # View logs
  sudo foolscrate service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the foolscrate agent as a system service",
		Long: `Install the foolscrate agent as a system service that starts at boot.

Requires administrator/root privileges. Note that a system service runs
outside your user account, so the config file should name the registry
and replica paths explicitly rather than relying on ~ expansion.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to agent configuration file")
	installCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: foolscrate)")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the foolscrate system service",
		RunE:  runServiceUninstall,
	}
	uninstallCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(uninstallCmd)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the foolscrate service",
		RunE:  runServiceStart,
	}
	startCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the foolscrate service",
		RunE:  runServiceStop,
	}
	stopCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(stopCmd)

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the foolscrate service",
		RunE:  runServiceRestart,
	}
	restartCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(restartCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show foolscrate service status",
		RunE:  runServiceStatus,
	}
	statusCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View foolscrate service logs",
		Long: `View logs from the foolscrate service.

Log locations by platform:
  - Linux:   journalctl -u foolscrate
  - macOS:   /var/log/foolscrate.out.log and .err.log
  - Windows: Event Viewer > Application log`,
		RunE: runServiceLogs,
	}
	logsCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

func getServiceConfig() *svc.ServiceConfig {
	name := serviceName
	if name == "" {
		name = svc.DefaultServiceName()
	}

	configPath := serviceConfigPath
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	return &svc.ServiceConfig{
		Name:        name,
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  configPath,
		UserName:    serviceUser,
	}
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s\nCreate the config file first (foolscrate init) or specify a different path with --config", cfg.ConfigPath)
	}

	log.Info().
		Str("name", cfg.Name).
		Str("config", cfg.ConfigPath).
		Msg("installing service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed successfully.\n", cfg.Name)
	fmt.Printf("\nTo start the service:\n")
	fmt.Printf("  foolscrate service start --name %s\n", cfg.Name)
	fmt.Printf("\nTo view logs:\n")
	fmt.Printf("  foolscrate service logs --name %s\n", cfg.Name)

	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("uninstalling service")

	if err := svc.Uninstall(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q uninstalled successfully.\n", cfg.Name)
	return nil
}

func runServiceStart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("starting service")

	if err := svc.Start(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q started.\n", cfg.Name)
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("stopping service")

	if err := svc.Stop(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q stopped.\n", cfg.Name)
	return nil
}

func runServiceRestart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("restarting service")

	if err := svc.Restart(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q restarted.\n", cfg.Name)
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg := getServiceConfig()

	status, err := svc.Status(cfg)
	if err != nil {
		// Service might not be installed
		fmt.Printf("Service: %s\n", cfg.Name)
		fmt.Printf("Status:  not installed or unknown\n")
		fmt.Printf("Error:   %v\n", err)
		return nil
	}

	fmt.Printf("Service: %s\n", cfg.Name)
	fmt.Printf("Status:  %s\n", svc.StatusString(status))
	fmt.Printf("Config:  %s\n", cfg.ConfigPath)

	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()

	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}
