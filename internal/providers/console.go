package providers

import (
	"context"
	"log/slog"

	"comms/internal/domain"
	"comms/internal/util"
)

const ConsoleName = "console"

// SMSSegmentLen is the GSM-7 single segment length.
const SMSSegmentLen = 160

// Console logs messages instead of delivering them. It never performs I/O
// and always succeeds.
type Console struct {
	Chan   domain.Channel
	Logger *slog.Logger
}

func NewConsole(ch domain.Channel) *Console {
	return &Console{Chan: ch, Logger: slog.Default()}
}

func (c *Console) Name() string            { return ConsoleName }
func (c *Console) Channel() domain.Channel { return c.Chan }

func (c *Console) ValidateRecipient(address string) bool {
	return ValidateFor(c.Chan, address)
}

func (c *Console) Send(ctx context.Context, msg domain.Message) (domain.SendResult, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"message_id", msg.ID,
		"channel", c.Chan,
		"from", msg.FromAddress,
		"to", msg.ToAddress,
		"subject", msg.Subject,
		"body", msg.BodyText,
	}
	if c.Chan == domain.ChannelSMS {
		attrs = append(attrs, "segments", Segments(msg.BodyText))
	}
	logger.InfoContext(ctx, "console delivery", attrs...)

	return domain.SendResult{
		Success:           true,
		Provider:          ConsoleName,
		ProviderMessageID: util.NewID("console_"),
	}, nil
}

// Segments is the number of SMS segments for body, counted per character.
func Segments(body string) int {
	n := len([]rune(body))
	if n == 0 {
		return 0
	}
	return (n + SMSSegmentLen - 1) / SMSSegmentLen
}
