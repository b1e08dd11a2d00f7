package controlloop

import (
	"context"

	"github.com/meridianquant/tradecore/internal/alerts"
)

// ManagerNotifier adapts an *alerts.Manager (console/log/Telegram
// alerters) to the Loop's narrow Notifier interface, so the control
// loop can fire-and-forget notifications without depending on any
// specific channel; notification channels are treated as external
// collaborators the loop itself stays agnostic to.
type ManagerNotifier struct {
	Manager *alerts.Manager
}

// Notify sends message as an info-level alert to every configured channel.
func (n ManagerNotifier) Notify(ctx context.Context, message string) error {
	return n.Manager.SendInfo(ctx, "trading", message, nil)
}
