package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trading Floor Configuration

[session]
# Minutes between ticks
interval_minutes = 60
# Run traders even when the market is closed
run_when_closed = false
# Upper bound for one trader's cycle (research, decision and orders)
cycle_timeout = "5m"
# Activity log entries kept in memory (0 keeps everything)
log_retention = 10000

[market]
timezone = "America/New_York"
open = "09:30"
close = "16:00"
# Full-day closures, YYYY-MM-DD
holidays = []
# "hours" uses the calendar above, "polygon" asks Polygon.io
source = "hours"

[prices]
# simulated, polygon or kite
source = "simulated"
seed = 42
volatility = 0.01
# Exchange prefix for kite instruments
exchange = "NSE"
# Consecutive failures before price lookups are short-circuited
breaker_threshold = 5
breaker_timeout = "30s"

[research]
# static, headlines or llm
source = "static"
urls = []
selector = "h3"
max_headlines = 20
static = "No research source configured."

[llm]
model = "gpt-4o-mini"
temperature = 0.7
max_tokens = 2048

[log]
level = "info"
file = true

[archive]
# Mirror activity, transactions and valuations into SQLite
enabled = false
path = "~/.config/trading-floor/floor.db"

[tracing]
# Print finished spans to stdout
stdout = false

[[traders]]
name = "Warren"
lastname = "Patience"
initial_balance = 10000.0
strategy = "Value investor. Buys quality companies below intrinsic value and holds them."
decider = "llm"

[traders.targets]
AAPL = 0.3
MSFT = 0.3
KO = 0.2

[[traders]]
name = "George"
lastname = "Bold"
initial_balance = 10000.0
strategy = "Macro trader. Takes large positions on shifts in policy and sentiment."
decider = "llm"

[[traders]]
name = "Ray"
lastname = "Systematic"
initial_balance = 10000.0
strategy = "Systematic all-weather allocator. Holds a fixed diversified mix."
decider = "allocation"

[traders.targets]
SPY = 0.3
TLT = 0.4
GLD = 0.15
DBC = 0.15

[[traders]]
name = "Cathie"
lastname = "Crypto"
initial_balance = 10000.0
strategy = "Growth investor focused on disruptive innovation."
decider = "llm"
`

const credentialsTemplate = `# Trading Floor Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[openai]
api_key = ""

[polygon]
api_key = ""

[kite]
api_key = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "floor.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
