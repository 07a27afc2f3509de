package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"glaiprocessor/pkg/config"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	cmd := exec.Command("notify-send", title, message)
	return cmd.Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, appleScriptEscape(message), appleScriptEscape(title))
	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

func appleScriptEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("GLAI processor").Show($toast)
	`, title, message)

	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	return cmd.Run()
}

// DesktopSender returns the sender of the current platform, or nil when the
// platform has none
func DesktopSender() NotificationSender {
	switch runtime.GOOS {
	case "linux":
		return &LinuxNotificationSender{}
	case "darwin":
		return &MacOSNotificationSender{}
	case "windows":
		return &WindowsNotificationSender{}
	default:
		return nil
	}
}

// Notifier reports the end of monitor runs on the console and, for the
// "desktop" notification type, as a desktop notification
type Notifier struct {
	out        *Printer
	sender     NotificationSender
	enabled    bool
	onComplete bool
	onError    bool
}

// NewNotifier creates a notifier from the notification settings
func NewNotifier(cfg config.NotificationConfig, w io.Writer) *Notifier {
	if w == nil {
		w = os.Stdout
	}
	n := &Notifier{
		out:        NewPrinter(w),
		enabled:    cfg.Enabled && !strings.EqualFold(cfg.NotificationType, "none"),
		onComplete: cfg.OnComplete,
		onError:    cfg.OnError,
	}
	if strings.EqualFold(cfg.NotificationType, "desktop") {
		n.sender = DesktopSender()
	}
	return n
}

// WithSender replaces the desktop sender
func (n *Notifier) WithSender(s NotificationSender) *Notifier {
	n.sender = s
	return n
}

// RunFinished reports a run that ended without error
func (n *Notifier) RunFinished(title, message string) {
	if !n.enabled || !n.onComplete {
		return
	}
	n.out.Success(fmt.Sprintf("%s: %s", title, message))
	n.send(title, message)
}

// RunFailed reports a run that ended with an error
func (n *Notifier) RunFailed(title string, err error) {
	if !n.enabled || !n.onError {
		return
	}
	n.out.Error(title, err)
	n.send(title, err.Error())
}

func (n *Notifier) send(title, message string) {
	if n.sender != nil {
		// Ignore errors as notifications are not critical
		_ = n.sender.Send(title, message)
	}
}
