package notify

import "log/slog"

// logNotifyResult runs fn and logs the outcome with any extra attributes.
func logNotifyResult(fn func() error, notifyType string, attrs ...any) error {
	if err := fn(); err != nil {
		slog.Error("notification failed", append([]any{"type", notifyType, "error", err}, attrs...)...)
		return err
	}
	slog.Info("notification sent", append([]any{"type", notifyType}, attrs...)...)
	return nil
}
