package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install Standin as a system daemon (launchd/systemd)",
		Long:  "Writes a user-level service file so 'standin serve' runs at login and restarts on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath := resolveConfigPath()

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(execPath, cfgPath)
			case "linux":
				return installSystemd(execPath, cfgPath)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the Standin system daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runtime.GOOS {
			case "darwin":
				return removeServiceFile(launchdPlistPath())
			case "linux":
				return removeServiceFile(systemdUnitPath())
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

const launchdLabel = "com.standin.serve"

func launchdPlistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdUnitPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", "standin.service")
}

// daemonLogPath is a single combined log; slog already tags levels, so
// separate stdout/stderr files would just split one stream in two.
func daemonLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".standin", "logs", "daemon.log")
}

func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func removeServiceFile(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No daemon installed at %s\n", path)
			return nil
		}
		return fmt.Errorf("remove service file: %w", err)
	}
	fmt.Printf("Daemon removed: %s\n", path)
	return nil
}

func installLaunchd(execPath, cfgPath string) error {
	logPath := daemonLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	plistPath := launchdPlistPath()
	plist := fmt.Sprintf(launchdPlist, launchdLabel, execPath, cfgPath, logPath)
	if err := writeServiceFile(plistPath, plist); err != nil {
		return err
	}

	fmt.Printf("Installed %s\n", plistPath)
	fmt.Printf("Logs go to %s\n", logPath)
	fmt.Printf("Start with: launchctl load %s\n", plistPath)
	return nil
}

func installSystemd(execPath, cfgPath string) error {
	logPath := daemonLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	unitPath := systemdUnitPath()
	unit := fmt.Sprintf(systemdUnit, execPath, cfgPath, logPath)
	if err := writeServiceFile(unitPath, unit); err != nil {
		return err
	}

	fmt.Printf("Installed %s\n", unitPath)
	fmt.Printf("Logs go to %s\n", logPath)
	fmt.Printf("Start with:  systemctl --user start standin\n")
	fmt.Printf("Enable with: systemctl --user enable standin\n")
	return nil
}

// %s order: label, executable, config path, log path.
const launchdPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%[1]s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%[2]s</string>
        <string>serve</string>
        <string>--config</string>
        <string>%[3]s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%[4]s</string>
    <key>StandardErrorPath</key>
    <string>%[4]s</string>
</dict>
</plist>
`

// %s order: executable, config path, log path.
const systemdUnit = `[Unit]
Description=Standin auto-reply daemon
After=network-online.target

[Service]
ExecStart=%[1]s serve --config %[2]s
Restart=on-failure
RestartSec=5
StandardOutput=append:%[3]s
StandardError=append:%[3]s

[Install]
WantedBy=default.target
`
