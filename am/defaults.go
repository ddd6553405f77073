package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.recwake/recwake.db")
	v.SetDefault("database.job_store", JobStoreSQLite)
	v.SetDefault("database.job_file", "~/.recwake/job.json")

	v.SetDefault("recording.dir", "~/VoiceRecordings")
	v.SetDefault("recording.min_duration_seconds", 1)
	v.SetDefault("recording.max_duration_seconds", 3*60*60)
	v.SetDefault("recording.sample_rate", 44100)
	v.SetDefault("recording.channels", 1)

	v.SetDefault("capture.backend", CaptureExec)
	v.SetDefault("capture.command", "arecord -q -D {device} -f S16_LE -r {rate} -c {channels} -t raw")
	v.SetDefault("capture.device", "default")
	v.SetDefault("capture.lock_path", "~/.recwake/capture.lock")
	v.SetDefault("capture.probe_foreign_holders", true)
	v.SetDefault("capture.acquire_attempts", 3)
	v.SetDefault("capture.acquire_backoff_seconds", 2)

	v.SetDefault("wake.backend", WakeTimer)
	v.SetDefault("wake.tick_interval_ms", 500)
	v.SetDefault("wake.grace_window_seconds", 300)
	v.SetDefault("wake.fire_command", "recwake fire")

	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	v.SetDefault("log.json", false)
}

// BindEnvVars binds the settings most often overridden per invocation to
// explicit names, so they work even without a config file present.
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "RECWAKE_DATABASE_PATH")
	v.BindEnv("recording.dir", "RECWAKE_RECORDING_DIR")
	v.BindEnv("capture.backend", "RECWAKE_CAPTURE_BACKEND")
	v.BindEnv("wake.backend", "RECWAKE_WAKE_BACKEND")
	v.BindEnv("server.address", "RECWAKE_SERVER_ADDRESS")
}

// Defaults returns a Config populated only from SetDefaults.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// defaults are static; a decode failure is a programming error
		panic(err)
	}
	return cfg
}
