package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-noisemeter/internal/audio"
	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

const emailTimeout = 2 * time.Minute

// alertMail builds the alert message. clipPath, when set, is the saved alert
// clip; it is attached if it fits, otherwise only named.
func alertMail(stationName string, a *types.AlertInfo, clipPath string) *Mail {
	m := &Mail{
		Subject: "[ALERT] Noise Too High - " + stationName,
		Body: fmt.Sprintf(
			"The noise level exceeded the alert threshold.\n\n"+
				"Level:     %.1f dBFS\n"+
				"Threshold: %.1f dBFS\n"+
				"Time:      %s\n"+
				"Session:   %s\n\n"+
				"The alert clears once the level drops %.0f dB below the threshold.",
			a.LevelDB, a.Threshold, util.HumanTime(a.Timestamp), a.SessionID, audio.HysteresisDB,
		),
	}
	if clipPath == "" {
		return m
	}

	name := filepath.Base(clipPath)
	data, err := os.ReadFile(clipPath)
	switch {
	case err != nil:
		m.Body += fmt.Sprintf("\n\nThe audio clip %s could not be read: %v", name, err)
	case len(data) > MaxAttachmentBytes:
		m.Body += fmt.Sprintf("\n\nThe audio clip %s is too large to attach (%d bytes) and is kept on the server.", name, len(data))
	default:
		m.Body += fmt.Sprintf("\n\nThe audio leading up to the alert is attached as %s.", name)
		m.Attachments = []Attachment{{Name: name, ContentType: "audio/wav", Content: data}}
	}
	return m
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(cfg *GraphConfig, stationName string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
	defer cancel()

	if err := client.ValidateAuth(ctx); err != nil {
		return err
	}

	err = client.Send(ctx, &Mail{
		To:      ParseRecipients(cfg.Recipients),
		Subject: "[TEST] " + stationName,
		Body: fmt.Sprintf(
			"Test email from the %s.\n\n"+
				"Time: %s\n\n"+
				"Microsoft Graph configuration is working correctly.",
			AppName, util.HumanTime(time.Now()),
		),
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
