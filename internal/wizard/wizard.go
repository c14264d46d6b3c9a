// Package wizard provides an interactive setup wizard that writes a carelay
// configuration file.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/postalsys/carelay/internal/config"
	"github.com/postalsys/carelay/internal/relay"
	"github.com/postalsys/carelay/internal/sysinfo"
)

// customForward is the select value for a hand-typed forward address.
const customForward = "custom"

// Answers holds the values collected by the wizard.
type Answers struct {
	ConfigPath    string
	ListenPort    string
	Forward       string // broadcast IP or customForward
	CustomForward string // IP used when Forward is customForward
	ForwardPort   string
	IdleTimeout   string
	LogLevel      string
	HealthEnabled bool
}

// DefaultAnswers returns the answers pre-filled in the forms.
func DefaultAnswers() Answers {
	forward := "127.255.255.255"
	if bs := sysinfo.BroadcastAddrs(); len(bs) > 0 {
		forward = bs[0]
	}
	return Answers{
		ConfigPath:  "./config.yaml",
		ListenPort:  "5065",
		Forward:     forward,
		ForwardPort: strconv.Itoa(relay.DefaultForwardPort),
		IdleTimeout: "30s",
		LogLevel:    "info",
	}
}

// Config builds and validates a configuration from the answers.
func (a Answers) Config() (*config.Config, error) {
	cfg := config.Default()

	port, err := strconv.Atoi(a.ListenPort)
	if err != nil {
		return nil, fmt.Errorf("invalid listen port %q", a.ListenPort)
	}
	cfg.Relay.ListenPort = port

	host := a.Forward
	if host == customForward {
		host = a.CustomForward
	}
	cfg.Relay.ForwardAddress = net.JoinHostPort(host, a.ForwardPort)

	idle, err := time.ParseDuration(a.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout %q: %w", a.IdleTimeout, err)
	}
	cfg.Relay.IdleTimeout = idle
	cfg.Log.Level = a.LogLevel
	cfg.Health.Enabled = a.HealthEnabled

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run asks for the relay settings, writes the config file and returns its
// path.
func (w *Wizard) Run() (string, error) {
	w.printBanner()

	a := DefaultAnswers()
	if err := w.askRelay(&a); err != nil {
		return "", err
	}
	if a.Forward == customForward {
		if err := w.askCustomForward(&a); err != nil {
			return "", err
		}
	}
	if err := w.askOptions(&a); err != nil {
		return "", err
	}

	cfg, err := a.Config()
	if err != nil {
		return "", err
	}
	if err := WriteConfig(cfg, a.ConfigPath); err != nil {
		return "", err
	}

	w.printSummary(a.ConfigPath, cfg)
	return a.ConfigPath, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render("carelay setup")

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("Channel Access broadcast relay\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askRelay(a *Answers) error {
	addrs := sysinfo.BroadcastAddrs()
	if !slices.Contains(addrs, a.Forward) {
		addrs = append([]string{a.Forward}, addrs...)
	}
	options := make([]huh.Option[string], 0, len(addrs)+1)
	for _, b := range addrs {
		options = append(options, huh.NewOption(b, b))
	}
	options = append(options, huh.NewOption("Other address...", customForward))

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Relay").
				Description("Clients send name searches to the listen port.\nEach search is resent to the forward address."),

			huh.NewInput().
				Title("Config file").
				Value(&a.ConfigPath).
				Validate(validateNotEmpty),

			huh.NewInput().
				Title("Listen port").
				Value(&a.ListenPort).
				Validate(ValidatePort),

			huh.NewSelect[string]().
				Title("Forward to broadcast address").
				Options(options...).
				Value(&a.Forward),

			huh.NewInput().
				Title("Forward port").
				Value(&a.ForwardPort).
				Validate(ValidatePort),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askCustomForward(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Forward address").
				Description("IPv4 broadcast or unicast address").
				Value(&a.CustomForward).
				Validate(ValidateIPv4),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Idle timeout").
				Description("Close a session after this long without replies (0 disables)").
				Value(&a.IdleTimeout).
				Validate(ValidateDuration),

			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Info", "info"),
					huh.NewOption("Debug (every query and reply)", "debug"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&a.LogLevel),

			huh.NewConfirm().
				Title("Enable health and metrics server?").
				Description("Serves /health, /metrics and /sessions on 127.0.0.1:9465").
				Value(&a.HealthEnabled),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// WriteConfig writes cfg as YAML to path, creating parent directories.
func WriteConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	header := "# carelay configuration\n# Generated by carelay init\n\n"
	if err := os.WriteFile(path, []byte(header+cfg.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	fmt.Println()
	fmt.Println(style.Render("Setup complete"))
	fmt.Println()
	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Listen port:  %d\n", cfg.Relay.ListenPort)
	fmt.Printf("  Forward to:   %s\n", cfg.Relay.ForwardAddress)
	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}
	fmt.Println()
	fmt.Println("  To start the relay:")
	fmt.Printf("    carelay run -c %s\n", configPath)
	fmt.Println()
}

func validateNotEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("required")
	}
	return nil
}

// ValidatePort accepts a decimal port in 1..65535.
func ValidatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("must be a port between 1 and 65535")
	}
	return nil
}

// ValidateIPv4 accepts a dotted IPv4 address.
func ValidateIPv4(s string) error {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("must be an IPv4 address")
	}
	return nil
}

// ValidateDuration accepts a non-negative Go duration such as 30s or 2m.
func ValidateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like 30s or 2m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
