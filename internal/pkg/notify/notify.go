package notify

import (
	"errors"
	"strings"

	"github.com/davidkroell/SpotRush/app/models"
)

// ErrNotificationFailed is surfaced to the caller when a channel transport
// rejects a send. There is no retry beyond the transport's own policy.
var ErrNotificationFailed = errors.New("notification delivery failed")

// Notifier delivers one message through an out-of-band channel and returns
// the transport's delivery id.
type Notifier interface {
	Send(destination, subject, message string) (string, error)
}

// ForChannel returns the notifier for a verification channel.
func ForChannel(channel string) (Notifier, error) {
	switch channel {
	case models.ChannelEmail:
		return &EmailNotifier{}, nil
	case models.ChannelSMS:
		return NewSMSNotifier(), nil
	}
	return nil, errors.New("unsupported notification channel: " + channel)
}

// MaskDestination hides most of an address or phone number for display and
// storage alongside a challenge.
func MaskDestination(channel, destination string) string {
	switch channel {
	case models.ChannelEmail:
		at := strings.Index(destination, "@")
		if at <= 1 {
			return "***"
		}
		return destination[:1] + "***" + destination[at:]
	case models.ChannelSMS:
		if len(destination) <= 4 {
			return "***"
		}
		return "***" + destination[len(destination)-4:]
	}
	return "***"
}
