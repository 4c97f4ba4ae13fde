package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/msgrelay/internal/config"
	"github.com/tinytelemetry/msgrelay/internal/relay"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

const separator = "    ─────────────────────────────────"

// row renders one "● Label  value" line, dimmed when off.
type row struct {
	on    bool
	label string
	value string
}

func (r row) String() string {
	mark := dimStyle.Render("●")
	value := dimStyle.Render(r.value)
	if r.on {
		mark = greenStyle.Render("●")
		value = cyanStyle.Render(r.value)
	}
	return fmt.Sprintf("    %s  %-14s %s", mark, r.label, value)
}

func section(title string, rows ...row) []string {
	lines := []string{boldStyle.Render("    " + title), ""}
	for _, r := range rows {
		lines = append(lines, r.String())
	}
	return append(lines, "")
}

func printStartupBanner(w io.Writer, c *components) {
	cfg := c.cfg

	logo := cyanStyle.Bold(true).Render(`
    ╔╦╗╔═╗╔═╗╦═╗╔═╗╦  ╔═╗╦ ╦
    ║║║╚═╗║ ╦╠╦╝║╣ ║  ╠═╣╚╦╝
    ╩ ╩╚═╝╚═╝╩╚═╚═╝╩═╝╩ ╩ ╩ `)

	lines := []string{"", logo, "    " + dimStyle.Render("v"+version), "", dimStyle.Render(separator), ""}

	lines = append(lines, section("Source",
		row{true, "Store", shortenPath(cfg.Source.Path)},
		optional(cfg.Source.AccountFilter != "", "Account", cfg.Source.AccountFilter),
		row{true, "Interval", describeInterval(cfg)},
	)...)

	lines = append(lines, section("Delivery",
		row{true, "Sink", cfg.Sink.Type + " " + sinkTarget(cfg.Sink)},
		optional(cfg.DeadLetter.Enabled, "Dead letters", shortenPath(cfg.DeadLetter.Path)),
	)...)

	lines = append(lines, section("State",
		row{true, "Cursor", cursorLocation(cfg.Cursor)},
		optional(cfg.Ledger.Enabled, "Ledger", shortenPath(cfg.Ledger.Path)),
		optional(cfg.API.Enabled, "Status API", cfg.API.Addr),
		optional(cfg.Log.File != "", "Log file", shortenPath(cfg.Log.File)),
		row{true, "Config", shortenPath(cfg.ConfigPath)},
	)...)

	lines = append(lines,
		dimStyle.Render(separator),
		"",
		"    "+dimStyle.Render("Press ")+yellowStyle.Render("Ctrl+C")+dimStyle.Render(" to stop"),
		"",
	)

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

// renderStatus formats the status command output. pending < 0 means the
// dead-letter log is disabled or unreadable.
func renderStatus(cfg config.Config, rep relay.StatusReport, pending int) string {
	var lines []string

	lines = append(lines, section("Paths",
		row{true, "Config", shortenPath(cfg.ConfigPath)},
		row{true, "State", cursorLocation(cfg.Cursor)},
		optional(cfg.Log.File != "", "Log file", shortenPath(cfg.Log.File)),
		row{true, "Store", shortenPath(cfg.Source.Path)},
	)...)

	cursorRow := row{true, "Cursor", strconv.FormatInt(rep.Cursor, 10)}
	if rep.CursorError != "" {
		cursorRow = row{false, "Cursor", redStyle.Render("unreadable: " + rep.CursorError)}
	}
	lastRun := row{false, "Last run", "never"}
	if rep.LastRun != nil {
		lastRun = row{true, "Last run", formatTime(*rep.LastRun)}
	}
	seeded := row{false, "Seeded", "no"}
	if rep.SeededAt != nil {
		seeded = row{true, "Seeded", formatTime(*rep.SeededAt)}
	}
	storeRow := row{true, "Store max", strconv.FormatInt(rep.StoreMax, 10)}
	backlog := row{rep.Backlog > 0, "Pending", fmt.Sprintf("~%d message(s)", rep.Backlog)}
	if rep.StoreError != "" {
		storeRow = row{false, "Store max", redStyle.Render("unreadable: " + rep.StoreError)}
		backlog = row{false, "Pending", "unknown"}
	}

	lines = append(lines, section("Relay",
		row{true, "Sink", cfg.Sink.Type + " " + sinkTarget(cfg.Sink)},
		row{true, "Interval", describeInterval(cfg)},
		cursorRow,
		lastRun,
		seeded,
		storeRow,
		backlog,
	)...)

	dl := row{false, "Dead letters", "disabled"}
	if pending >= 0 {
		dl = row{pending > 0, "Dead letters", fmt.Sprintf("%d undelivered", pending)}
	}
	lines = append(lines, section("Delivery", dl)...)

	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func optional(on bool, label, value string) row {
	if !on {
		return row{false, label, "disabled"}
	}
	return row{true, label, value}
}

func describeInterval(cfg config.Config) string {
	d := cfg.PollInterval().String()
	if cfg.Digest.Enabled {
		return "digest every " + d
	}
	return "every " + d
}

// sinkTarget names where payloads go without echoing credentials or webhook
// paths, which often embed tokens.
func sinkTarget(s config.SinkConfig) string {
	switch s.Type {
	case config.SinkWebhook:
		u, err := url.Parse(s.Webhook.URL)
		if err != nil || u.Host == "" {
			return "(no url)"
		}
		return "→ " + u.Scheme + "://" + u.Host
	case config.SinkEmail:
		return fmt.Sprintf("→ %s via %s:%d", s.Email.To, s.Email.SMTPHost, s.Email.SMTPPort)
	case config.SinkNATS:
		return "→ " + s.NATS.Subject + " @ " + redactURL(s.NATS.URL)
	case config.SinkKafka:
		return "→ " + s.Kafka.Topic + " @ " + strings.Join(s.Kafka.Brokers, ",")
	default:
		return ""
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

func cursorLocation(c config.CursorConfig) string {
	if c.Backend == config.CursorRedis {
		return "redis " + c.Redis.Addr + " key " + c.Redis.Key
	}
	return shortenPath(c.Path)
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime) + dimStyle.Render(" ("+time.Since(t).Round(time.Second).String()+" ago)")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
