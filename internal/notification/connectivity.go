package notification

import (
	"context"
	"log"
)

// WatchConnectivity turns hub connectivity updates into alerts until ctx is
// cancelled or updates is closed: WARNING when an established connection
// is lost, INFO when it comes back. Failed attempts before the first
// successful connect are not reported.
func WatchConnectivity(ctx context.Context, updates <-chan bool, n Notifier) {
	up, lost := false, false
	for {
		select {
		case <-ctx.Done():
			return
		case connected, ok := <-updates:
			if !ok {
				return
			}
			switch {
			case connected && !up:
				up = true
				if lost {
					notify(ctx, n, Alert{
						Level:   AlertInfo,
						Title:   "Price feed restored",
						Message: "connection to the pricing hub re-established",
					})
				}
			case !connected && up:
				up, lost = false, true
				notify(ctx, n, Alert{
					Level:   AlertWarning,
					Title:   "Price feed lost",
					Message: "connection to the pricing hub dropped; prices are stale until it reconnects",
				})
			}
		}
	}
}

func notify(ctx context.Context, n Notifier, a Alert) {
	if err := n.Send(ctx, a); err != nil {
		log.Printf("[notify] alert %q not delivered: %v", a.Title, err)
	}
}
