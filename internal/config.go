package internal

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full environment of the engine binary. Everything without a
// sane universal default is required so a misconfigured deployment fails at
// boot instead of misbehaving at 3am.
type Config struct {
	Host string `env:"HOST,required=true"`
	Port int    `env:"PORT,required=true" validate:"gt=0,lte=65535"`

	LogLevel string `env:"LOG_LEVEL,required=true" validate:"oneof=DEBUG INFO WARN ERROR"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	IdentitySecret string        `env:"IDENTITY_SECRET,required=true" validate:"min=16"`
	MediaSecret    string        `env:"MEDIA_SECRET,required=true" validate:"min=16"`
	MediaTokenTTL  time.Duration `env:"MEDIA_TOKEN_TTL,default=5m"`

	MailboxSize      int           `env:"MAILBOX_SIZE,required=true" validate:"gt=0"`
	BufferSize       int           `env:"BUFFER_SIZE,required=true" validate:"gt=0"`
	StreamBufferSize int           `env:"STREAM_BUFFER_SIZE,required=true" validate:"gt=0"`
	SinkTimeout      time.Duration `env:"SINK_TIMEOUT,required=true"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,required=true"`

	RoomCodeLength int `env:"ROOM_CODE_LENGTH,default=6" validate:"gte=4,lte=12"`

	PresenceInterval time.Duration `env:"PRESENCE_INTERVAL,required=true"`
	PresenceTimeout  time.Duration `env:"PRESENCE_TIMEOUT,required=true"`

	CursorSweepInterval time.Duration `env:"CURSOR_SWEEP_INTERVAL,required=true"`
	CursorTTL           time.Duration `env:"CURSOR_TTL,required=true"`
	CursorRatePerSecond float64       `env:"CURSOR_RATE_PER_SECOND,default=20"`
	CursorRateBurst     int           `env:"CURSOR_RATE_BURST,default=5"`

	HealthInterval time.Duration `env:"HEALTH_INTERVAL,required=true"`
}

// Validate applies the range checks the env tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.PresenceTimeout <= c.PresenceInterval {
		return fmt.Errorf("PRESENCE_TIMEOUT (%s) must exceed PRESENCE_INTERVAL (%s)",
			c.PresenceTimeout, c.PresenceInterval)
	}
	return nil
}
