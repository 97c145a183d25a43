package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
}

// ViewLogs displays service logs using platform-appropriate tools.
func ViewLogs(opts LogOptions) error {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}

	switch runtime.GOOS {
	case "linux":
		return viewLogsLinux(opts)
	case "darwin":
		return viewLogsDarwin(opts)
	case "windows":
		fmt.Printf("To view logs on Windows:\n")
		fmt.Printf("  1. Open Event Viewer (eventvwr.msc)\n")
		fmt.Printf("  2. Navigate to Windows Logs > Application\n")
		fmt.Printf("  3. Filter by Source: %s\n", opts.ServiceName)
		return nil
	default:
		return fmt.Errorf("log viewing not supported on %s", runtime.GOOS)
	}
}

// viewLogsLinux uses journalctl to view systemd service logs.
func viewLogsLinux(opts LogOptions) error {
	args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}

	cmd := exec.Command("journalctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	return cmd.Run()
}

// viewLogsDarwin reads from the log files created by launchd.
func viewLogsDarwin(opts LogOptions) error {
	outLog := fmt.Sprintf("/var/log/%s.out.log", opts.ServiceName)
	errLog := fmt.Sprintf("/var/log/%s.err.log", opts.ServiceName)

	if opts.Follow {
		cmd := exec.Command("tail", "-f", outLog, errLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		return cmd.Run()
	}

	outExists := fileExists(outLog)
	errExists := fileExists(errLog)

	if !outExists && !errExists {
		fmt.Printf("No log files found for service %q\n", opts.ServiceName)
		fmt.Printf("Expected log files:\n")
		fmt.Printf("  - %s\n", outLog)
		fmt.Printf("  - %s\n", errLog)
		return nil
	}

	// Show stderr first (errors), then stdout
	if errExists {
		fmt.Println("=== Errors ===")
		cmd := exec.Command("tail", "-n", strconv.Itoa(opts.Lines), errLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		_ = cmd.Run()
	}

	if outExists {
		if errExists {
			fmt.Println("\n=== Output ===")
		}
		cmd := exec.Command("tail", "-n", strconv.Itoa(opts.Lines), outLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		_ = cmd.Run()
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
