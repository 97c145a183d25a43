package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foolscrate/foolscrate/internal/schedule"
)

var cronExecutable string

func newCronCmd() *cobra.Command {
	cronCmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage the crontab entry that syncs every minute",
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install (or refresh) the crontab sync entry",
		Args:  cobra.NoArgs,
		RunE:  runCronInstall,
	}
	installCmd.Flags().StringVar(&cronExecutable, "executable", "", "binary to run from cron (default: this binary)")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the crontab sync entry",
		Args:  cobra.NoArgs,
		RunE:  runCronUninstall,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the installed crontab sync entry",
		Args:  cobra.NoArgs,
		RunE:  runCronShow,
	}

	cronCmd.AddCommand(installCmd)
	cronCmd.AddCommand(uninstallCmd)
	cronCmd.AddCommand(showCmd)
	return cronCmd
}

func resolveCronExecutable() (string, error) {
	if cronExecutable != "" {
		return cronExecutable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate own executable: %w", err)
	}
	return exe, nil
}

func runCronInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	exe, err := resolveCronExecutable()
	if err != nil {
		return err
	}

	installer := schedule.NewInstaller(nil)
	if err := installer.Install(cmd.Context(), exe); err != nil {
		return err
	}

	fmt.Println("Cron entry installed. Tracked replicas now sync every minute.")
	return nil
}

func runCronUninstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	installer := schedule.NewInstaller(nil)
	if err := installer.Uninstall(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("Cron entry removed.")
	return nil
}

func runCronShow(cmd *cobra.Command, args []string) error {
	installer := schedule.NewInstaller(nil)
	block, err := installer.Show(cmd.Context())
	if err != nil {
		return err
	}
	if block == "" {
		fmt.Println("No cron entry installed.")
		return nil
	}
	fmt.Print(block)
	return nil
}
