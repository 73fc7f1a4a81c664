package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Desktop fires a local notification on macOS (osascript) or Linux
// (notify-send). It is best effort: no error is ever returned.
type Desktop struct {
	logger *slog.Logger
}

func NewDesktop(logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{logger: logger}
}

func (d *Desktop) Send(title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + escapeQuotes(message) +
			`" with title "` + escapeQuotes(title) + `" sound name "Glass"`
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "linux":
		cmd = exec.CommandContext(ctx, "notify-send", title, message)
	default:
		return
	}

	if err := cmd.Run(); err != nil {
		d.logger.Debug("desktop notification failed", "error", err)
		return
	}
	d.logger.Debug("desktop notification triggered")
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
