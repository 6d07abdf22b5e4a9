// Package notifier provides build notification functionality
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// DesktopNotifier surfaces build lifecycle events as desktop
// notifications. It implements interfaces.BuildNotifier.
type DesktopNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// New creates a notifier from configuration. Notifications default to
// enabled; a disabled notifier swallows every event.
func New(config types.NotificationConfig, log logger.Logger) *DesktopNotifier {
	enabled := config.Enabled == nil || *config.Enabled
	return &DesktopNotifier{
		enabled:      enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifyBuildStart notifies that a build has started
func (n *DesktopNotifier) NotifyBuildStart(buildID string, modules int) {
	if !n.enabled {
		return
	}

	title := "🔨 Forgeloop"
	message := fmt.Sprintf("Building %d modules (%s)", modules, buildID)

	n.send(title, message, "")
}

// NotifyModulePassed notifies that a module validated cleanly
func (n *DesktopNotifier) NotifyModulePassed(module types.ModuleID, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "✅ Module Passed"
	message := fmt.Sprintf("%s in %s", module, formatDuration(duration))

	n.send(title, message, n.successSound)
}

// NotifyModuleEscalated notifies that a module exhausted its fix iterations
func (n *DesktopNotifier) NotifyModuleEscalated(module types.ModuleID, iterations int) {
	if !n.enabled {
		return
	}

	title := "❌ Module Escalated"
	message := fmt.Sprintf("%s failed after %d iterations", module, iterations)

	n.send(title, message, n.failureSound)
}

// NotifyVerdict notifies the final build verdict
func (n *DesktopNotifier) NotifyVerdict(verdict types.BuildVerdict, duration time.Duration) {
	if !n.enabled {
		return
	}

	var title string
	sound := n.failureSound
	switch verdict {
	case types.BuildVerdictSuccess:
		title = "✅ Build Succeeded"
		sound = n.successSound
	case types.BuildVerdictCancelled:
		title = "⏹ Build Cancelled"
		sound = ""
	default:
		title = "❌ Build " + string(verdict)
	}
	message := fmt.Sprintf("finished in %s", formatDuration(duration))

	n.send(title, message, sound)
}

func (n *DesktopNotifier) send(title, message, soundName string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
	}

	if soundName != "" {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
