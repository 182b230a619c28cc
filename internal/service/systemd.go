// Package service installs pilink binaries as systemd units.
package service

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const unitTemplate = `[Unit]
Description={{.Description}}
Documentation=https://github.com/clawinfra/pilink
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
Group={{.Group}}
WorkingDirectory={{.WorkDir}}
ExecStart={{.ExecPath}} --config {{.ConfigPath}}
{{- if .Reloadable}}
ExecReload=/bin/kill -HUP $MAINPID
{{- end}}
Restart={{.Restart}}
RestartSec=5s
StandardOutput=journal
StandardError=journal
SyslogIdentifier={{.Name}}
{{- range $k, $v := .Environment}}
Environment={{$k}}={{$v}}
{{- end}}

# Security hardening
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
{{- if .DataDir}}
ReadWritePaths={{.DataDir}}
{{- end}}

LimitNOFILE=65536

[Install]
WantedBy=multi-user.target
`

// Unit describes one systemd service.
type Unit struct {
	Name        string // unit and syslog name, e.g. "pilink"
	Description string
	User        string
	Group       string
	WorkDir     string
	ExecPath    string
	ConfigPath  string
	DataDir     string
	// Restart is the systemd restart policy, "on-failure" by default.
	Restart string
	// Reloadable adds ExecReload sending SIGHUP.
	Reloadable  bool
	Environment map[string]string
}

// NewUnit fills a unit for the running executable.
func NewUnit(name, description, configPath string) (*Unit, error) {
	user := os.Getenv("USER")
	if user == "" {
		user = "pi"
	}

	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("get executable path: %w", err)
	}
	execPath, _ = filepath.Abs(execPath)

	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(workDir, configPath)
	}

	return &Unit{
		Name:        name,
		Description: description,
		User:        user,
		Group:       user,
		WorkDir:     workDir,
		ExecPath:    execPath,
		ConfigPath:  configPath,
		Restart:     "on-failure",
	}, nil
}

// Render writes the unit file contents to w.
func (u *Unit) Render(w io.Writer) error {
	if u.Restart == "" {
		u.Restart = "on-failure"
	}
	tmpl, err := template.New("systemd").Parse(unitTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	if err := tmpl.Execute(w, u); err != nil {
		return fmt.Errorf("render unit: %w", err)
	}
	return nil
}

// UnitPath returns where the unit file goes: system-wide for root, the
// user unit directory otherwise.
func UnitPath(name string, root bool, home string) string {
	if root {
		return filepath.Join("/etc/systemd/system", name+".service")
	}
	return filepath.Join(home, ".config", "systemd", "user", name+".service")
}

// Install writes the unit file and reloads systemd.
func Install(u *Unit, out io.Writer) error {
	root := os.Geteuid() == 0
	home, _ := os.UserHomeDir()
	path := UnitPath(u.Name, root, home)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create unit file: %w", err)
	}
	defer f.Close()

	if err := u.Render(f); err != nil {
		return err
	}
	fmt.Fprintf(out, "Systemd unit installed: %s\n", path)

	if err := systemctl(root, "daemon-reload"); err != nil {
		fmt.Fprintf(out, "Warning: systemctl daemon-reload failed: %v\n", err)
	}

	prefix := "systemctl --user"
	if root {
		prefix = "sudo systemctl"
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "   %s enable %s\n", prefix, u.Name)
	fmt.Fprintf(out, "   %s start %s\n", prefix, u.Name)
	fmt.Fprintf(out, "   %s status %s\n", prefix, u.Name)
	return nil
}

// Uninstall stops and disables the unit, then removes its file.
func Uninstall(name string, out io.Writer) error {
	root := os.Geteuid() == 0
	home, _ := os.UserHomeDir()
	path := UnitPath(name, root, home)

	// the unit may not be loaded; errors here are expected
	_ = systemctl(root, "stop", name)
	_ = systemctl(root, "disable", name)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	_ = systemctl(root, "daemon-reload")

	fmt.Fprintf(out, "Systemd service %s uninstalled\n", name)
	return nil
}

func systemctl(root bool, args ...string) error {
	if !root {
		args = append([]string{"--user"}, args...)
	}
	return exec.Command("systemctl", args...).Run()
}
