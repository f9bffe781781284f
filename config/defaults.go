package config

import "time"

const DefaultAPIBaseURL = "https://kalpokoch-chatbotdemo.hf.space"

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/dopchat",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		API: APIConfig{
			BaseURL:         DefaultAPIBaseURL,
			SubmitTimeout:   Duration{30 * time.Second},
			PollTimeout:     Duration{10 * time.Second},
			FeedbackTimeout: Duration{15 * time.Second},
			HealthTimeout:   Duration{5 * time.Second},
		},
		Polling: PollingConfig{
			Interval:         Duration{3 * time.Second},
			StatusClearDelay: Duration{2 * time.Second},
			BannerDuration:   Duration{5 * time.Second},
		},
		Backoff: BackoffConfig{
			InitialDelay: Duration{5 * time.Second},
			Multiplier:   2,
			MaxDelay:     Duration{30 * time.Second},
			Jitter:       0.2,
			MaxAttempts:  36,
		},
		Health: HealthConfig{
			CheckInterval: Duration{30 * time.Second},
			WakeEstimate:  Duration{270 * time.Second},
		},
		Chat: ChatConfig{
			TitleLength: 30,
		},
	}
}

// Defaults returns a Config populated from the default system and user configs.
func Defaults() *Config {
	cfg := &Config{DataDirectory: DefaultSystemConfig().DataDirectory}
	cfg.applyUserConfig(DefaultUserConfig())
	return cfg
}

func GenerateSystemConfigTemplate() string {
	return `# dopchat System Configuration
# Location: ~/.config/dopchat/settings.toml
# This file uses TOML format: https://toml.io

# Directory where the user config and debug log are stored
data_directory = "~/.local/share/dopchat"
`
}

func GenerateUserConfigTemplate() string {
	return `# dopchat User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Expose Prometheus metrics on this address (optional), e.g. "127.0.0.1:9464"
# metrics_addr = ""

[api]
# Base URL of the question-answering service
base_url = "` + DefaultAPIBaseURL + `"
submit_timeout = "30s"
poll_timeout = "10s"
feedback_timeout = "15s"
health_timeout = "5s"

[polling]
# How often a pending question is checked
interval = "3s"
# How long the final status stays visible after the last answer lands
status_clear_delay = "2s"
# How long error banners stay visible
banner_duration = "5s"

[backoff]
# Retry schedule while the service is waking up
initial_delay = "5s"
multiplier = 2.0
max_delay = "30s"
jitter = 0.2
max_attempts = 36

[health]
check_interval = "30s"
wake_estimate = "4m30s"

[chat]
# Conversation titles are cut to this many characters
title_length = 30
`
}
