package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"

	"avatar-sync/server/internal/net/datagram"
	"avatar-sync/server/internal/sim"
	"avatar-sync/server/internal/state"
	"avatar-sync/server/internal/world"
	"avatar-sync/server/logging"
)

// Config is the full runtime configuration of the authority.
type Config struct {
	UDPAddr          string        `json:"udpAddr" jsonschema:"description=UDP listen address for participants,default=:7777"`
	HTTPAddr         string        `json:"httpAddr" jsonschema:"description=HTTP listen address for diagnostics and viewers,default=:8080"`
	TickQuantum      time.Duration `json:"tickQuantum" jsonschema:"description=Fixed simulation step in nanoseconds"`
	UpdateRate       int           `json:"updateRate" jsonschema:"description=State update rounds per second,minimum=1,maximum=100"`
	StatusEvery      int           `json:"statusEvery" jsonschema:"description=Update rounds between full status broadcasts,minimum=1"`
	MaxPlayers       int           `json:"maxPlayers" jsonschema:"description=Player table capacity,minimum=1,maximum=32"`
	PredictionBuffer int           `json:"predictionBuffer" jsonschema:"description=Unconfirmed command buffer capacity,minimum=1,maximum=100"`
	MaxIterations    int           `json:"collisionMaxIterations" jsonschema:"description=Collision resolver iteration bound,minimum=1"`
	PlayerCollision  bool          `json:"playerCollision" jsonschema:"description=Separate overlapping players after each tick"`
	CatchupMaxTicks  int           `json:"catchupMaxTicks" jsonschema:"description=Maximum ticks simulated for one frame,minimum=1"`
	PeerTimeout      time.Duration `json:"peerTimeout" jsonschema:"description=Silence after which a participant is dropped in nanoseconds"`
	Teams            int           `json:"teams" jsonschema:"description=Number of teams,minimum=1,maximum=255"`
	EnablePprof      bool          `json:"enablePprofTrace" jsonschema:"description=Expose /debug/pprof"`
	Log              LogConfig     `json:"log"`
	Impair           ImpairConfig  `json:"impair"`
}

// LogConfig selects event sinks.
type LogConfig struct {
	Sinks       []string `json:"sinks" jsonschema:"description=Enabled sinks,enum=console,enum=json"`
	JSONPath    string   `json:"jsonPath,omitempty" jsonschema:"description=File receiving NDJSON events when the json sink is enabled"`
	MinSeverity string   `json:"minSeverity" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Color       bool     `json:"color" jsonschema:"description=Colorize console output"`
}

// ImpairConfig injects channel faults into outgoing datagrams.
type ImpairConfig struct {
	Loss      float64 `json:"loss" jsonschema:"minimum=0,maximum=1"`
	Duplicate float64 `json:"duplicate" jsonschema:"minimum=0,maximum=1"`
	Reorder   float64 `json:"reorder" jsonschema:"minimum=0,maximum=1"`
	Seed      int64   `json:"seed,omitempty"`
}

// Datagram converts to the transport's impairment settings.
func (c ImpairConfig) Datagram() datagram.Config {
	return datagram.Config{Loss: c.Loss, Duplicate: c.Duplicate, Reorder: c.Reorder, Seed: c.Seed}
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		UDPAddr:          ":7777",
		HTTPAddr:         ":8080",
		TickQuantum:      sim.DefaultQuantum,
		UpdateRate:       20,
		StatusEvery:      10,
		MaxPlayers:       state.DefaultCapacity,
		PredictionBuffer: sim.DefaultInputBufferCapacity,
		MaxIterations:    world.DefaultMaxIterations,
		CatchupMaxTicks:  sim.DefaultCatchupMaxTicks,
		PeerTimeout:      10 * time.Second,
		Teams:            2,
		Log: LogConfig{
			Sinks:       []string{"console"},
			MinSeverity: logging.SeverityInfo.String(),
		},
	}
}

// Lookup reads one variable; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads the optional .env files (./.env when none are named) into the
// process environment, then parses it. Invalid values keep their default and
// are returned as warnings; the returned error is fatal.
func Load(files ...string) (Config, []error, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil, fmt.Errorf("load env file: %w", err)
	}
	cfg, warnings := Parse(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, warnings, err
	}
	return cfg, warnings, nil
}

// Parse builds a configuration from lookup on top of Default.
func Parse(lookup Lookup) (Config, []error) {
	cfg := Default()
	p := parser{lookup: lookup}
	p.str("UDP_ADDR", &cfg.UDPAddr)
	p.str("HTTP_ADDR", &cfg.HTTPAddr)
	p.duration("TICK_QUANTUM", &cfg.TickQuantum)
	p.integer("UPDATE_RATE", &cfg.UpdateRate)
	p.integer("STATUS_EVERY", &cfg.StatusEvery)
	p.integer("MAX_PLAYERS", &cfg.MaxPlayers)
	p.integer("PREDICTION_BUFFER", &cfg.PredictionBuffer)
	p.integer("COLLISION_MAX_ITERATIONS", &cfg.MaxIterations)
	p.boolean("PLAYER_COLLISION", &cfg.PlayerCollision)
	p.integer("CATCHUP_MAX_TICKS", &cfg.CatchupMaxTicks)
	p.duration("PEER_TIMEOUT", &cfg.PeerTimeout)
	p.integer("TEAMS", &cfg.Teams)
	p.boolean("ENABLE_PPROF_TRACE", &cfg.EnablePprof)
	p.list("LOG_SINKS", &cfg.Log.Sinks)
	p.str("LOG_JSON_PATH", &cfg.Log.JSONPath)
	p.severity("LOG_MIN_SEVERITY", &cfg.Log.MinSeverity)
	p.boolean("LOG_COLOR", &cfg.Log.Color)
	p.fraction("IMPAIR_LOSS", &cfg.Impair.Loss)
	p.fraction("IMPAIR_DUPLICATE", &cfg.Impair.Duplicate)
	p.fraction("IMPAIR_REORDER", &cfg.Impair.Reorder)
	p.int64("IMPAIR_SEED", &cfg.Impair.Seed)
	return cfg, p.warnings
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TickQuantum < time.Millisecond || c.TickQuantum > time.Duration(1<<16-1)*time.Millisecond {
		errs = append(errs, fmt.Errorf("tick quantum %s out of range", c.TickQuantum))
	}
	if c.UpdateRate < 1 || c.UpdateRate > 100 {
		errs = append(errs, fmt.Errorf("update rate %d out of range [1, 100]", c.UpdateRate))
	}
	if c.StatusEvery < 1 {
		errs = append(errs, fmt.Errorf("status every %d must be positive", c.StatusEvery))
	}
	if c.MaxPlayers < 1 || c.MaxPlayers > state.MaxPlayers {
		errs = append(errs, fmt.Errorf("max players %d out of range [1, %d]", c.MaxPlayers, state.MaxPlayers))
	}
	if c.PredictionBuffer < 1 || c.PredictionBuffer > sim.AcceptWindow {
		errs = append(errs, fmt.Errorf("prediction buffer %d out of range [1, %d]", c.PredictionBuffer, sim.AcceptWindow))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("collision max iterations %d must be positive", c.MaxIterations))
	}
	if c.CatchupMaxTicks < 1 {
		errs = append(errs, fmt.Errorf("catchup max ticks %d must be positive", c.CatchupMaxTicks))
	}
	if c.PeerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("peer timeout %s must be positive", c.PeerTimeout))
	}
	if c.Teams < 1 || c.Teams > 255 {
		errs = append(errs, fmt.Errorf("teams %d out of range [1, 255]", c.Teams))
	}
	for _, sink := range c.Log.Sinks {
		switch sink {
		case "console":
		case "json":
			if c.Log.JSONPath == "" {
				errs = append(errs, errors.New("json sink requires LOG_JSON_PATH"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown log sink %q", sink))
		}
	}
	if _, err := logging.ParseSeverity(c.Log.MinSeverity); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Logging converts the log section into router settings.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = append([]string(nil), c.Log.Sinks...)
	if sev, err := logging.ParseSeverity(c.Log.MinSeverity); err == nil {
		cfg.MinimumSeverity = sev
	}
	cfg.JSON.FilePath = c.Log.JSONPath
	cfg.Console.UseColor = c.Log.Color
	return cfg
}

// Schema reflects Config into a JSON schema document.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := reflector.Reflect(new(Config))
	schema.Title = "avatar-sync server configuration"
	schema.Description = "Settings read from the environment or a .env file at startup"
	return schema
}

// SchemaJSON returns the indented schema document.
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

type parser struct {
	lookup   Lookup
	warnings []error
}

func (p *parser) raw(key string) (string, bool) {
	if p.lookup == nil {
		return "", false
	}
	value, ok := p.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (p *parser) warn(key, raw string, err error) {
	p.warnings = append(p.warnings, fmt.Errorf("invalid %s=%q: %w", key, raw, err))
}

func (p *parser) str(key string, dst *string) {
	if raw, ok := p.raw(key); ok {
		*dst = raw
	}
}

func (p *parser) integer(key string, dst *int) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.warn(key, raw, err)
		return
	}
	*dst = value
}

func (p *parser) int64(key string, dst *int64) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.warn(key, raw, err)
		return
	}
	*dst = value
}

func (p *parser) boolean(key string, dst *bool) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.warn(key, raw, err)
		return
	}
	*dst = value
}

// duration accepts Go duration strings or a bare number of milliseconds.
func (p *parser) duration(key string, dst *time.Duration) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		p.warn(key, raw, err)
		return
	}
	*dst = value
}

func (p *parser) fraction(key string, dst *float64) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err == nil && (value < 0 || value > 1) {
		err = errors.New("must be within [0, 1]")
	}
	if err != nil {
		p.warn(key, raw, err)
		return
	}
	*dst = value
}

func (p *parser) severity(key string, dst *string) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	sev, err := logging.ParseSeverity(raw)
	if err != nil {
		p.warn(key, raw, err)
		return
	}
	*dst = sev.String()
}

func (p *parser) list(key string, dst *[]string) {
	raw, ok := p.raw(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}
