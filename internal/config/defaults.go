package config

const (
	defaultListeningInterval = 1000
	minListeningInterval     = 500
	defaultSinkInterval      = 60000
	minSinkInterval          = 5000
	defaultMessagingTimeout  = 60
	defaultAliveInterval     = 60000
	defaultBusBucket         = "warden_telemetry"
	defaultLogLevel          = "info"
	defaultLogFormat         = "console"
	defaultLogDir            = "~/.local/share/warden/logs"
	defaultRunDir            = "~/.local/share/warden/run"
)

// Default returns a Config populated with repository defaults. The
// listening port has no default: it is mandatory in every config file.
func Default() Config {
	return Config{
		Enabled:           true,
		ListeningInterval: defaultListeningInterval,
		MessagingInterval: defaultSinkInterval,
		HttpingInterval:   defaultSinkInterval,
		TextingInterval:   defaultSinkInterval,
		MessagingTimeout:  defaultMessagingTimeout,
		AliveInterval:     defaultAliveInterval,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
		LogDir:            defaultLogDir,
		RunDir:            defaultRunDir,
		Telemetry: Telemetry{
			BusBucket: defaultBusBucket,
		},
	}
}
