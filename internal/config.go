// Package internal contiene el runtime del relay: configuración,
// subscribers, workers, dispatcher, reconciliación y coordinador.
package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Monkeyattack/fxtrueup-sub003/domain"
)

// AccountConfig describe una cuenta conocida por el relay y cómo
// ubicarla en el pool de brokers.
type AccountConfig struct {
	ID     string `json:"id"`
	Region string `json:"region"`
	Label  string `json:"label,omitempty"`
}

// Config es la configuración completa del relay, cargada desde un
// documento JSON local al arrancar y en cada reload del operador
// (SIGHUP).
type Config struct {
	// Pool de brokers (servicio externo)
	PoolBaseURL string
	PoolToken   string

	// Persistencia
	Backend     string // "bolt" | "postgres"
	StatePath   string
	PostgresDSN string

	// Interfaces hacia el dashboard/CLI
	EventLogPath   string
	StatusPath     string
	StatusInterval time.Duration

	// Timeouts y cadencias
	BrokerTimeout     time.Duration
	ShutdownGrace     time.Duration
	ReconcileInterval time.Duration

	// Pacing de órdenes por destino
	OrderRatePerSecond float64
	OrderBurst         int

	// Telemetry
	ServiceName     string
	ServiceVersion  string
	Environment     string
	OTLPEndpoint    string
	MetricsEndpoint string

	// Documento de rutas
	Accounts map[string]AccountConfig
	RuleSets map[string]*domain.RuleSet
	Routes   []*domain.Route
}

// wireConfig es el formato del documento JSON en disco.
type wireConfig struct {
	Settings wireSettings    `json:"settings"`
	Accounts []AccountConfig `json:"accounts"`
	RuleSets []wireRuleSet   `json:"rule_sets"`
	Routes   []*domain.Route `json:"routes"`
}

type wireSettings struct {
	PoolBaseURL string `json:"pool_base_url"`
	PoolToken   string `json:"pool_token,omitempty"`

	Backend     string `json:"backend,omitempty"`
	StatePath   string `json:"state_path,omitempty"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`

	EventLogPath     string `json:"event_log_path,omitempty"`
	StatusPath       string `json:"status_path,omitempty"`
	StatusIntervalS  int    `json:"status_interval_s,omitempty"`
	BrokerTimeoutS   int    `json:"broker_timeout_s,omitempty"`
	ShutdownGraceS   int    `json:"shutdown_grace_s,omitempty"`
	ReconcileEveryMn int    `json:"reconcile_interval_minutes,omitempty"`

	OrderRatePerSecond float64 `json:"order_rate_per_second,omitempty"`
	OrderBurst         int     `json:"order_burst,omitempty"`

	ServiceName     string `json:"service_name,omitempty"`
	ServiceVersion  string `json:"service_version,omitempty"`
	Environment     string `json:"environment,omitempty"`
	OTLPEndpoint    string `json:"otlp_endpoint,omitempty"`
	MetricsEndpoint string `json:"metrics_endpoint,omitempty"`
}

// wireRuleSet expresa las duraciones en unidades enteras legibles.
type wireRuleSet struct {
	ID                     string  `json:"id"`
	SizingMode             string  `json:"sizing_mode"`
	FixedLotSize           float64 `json:"fixed_lot_size,omitempty"`
	MaxOpenPositions       int     `json:"max_open_positions,omitempty"`
	MinTimeBetweenTradesMn int     `json:"min_time_between_trades_minutes,omitempty"`
	MaxDailyTrades         int     `json:"max_daily_trades,omitempty"`
	DailyLossLimit         float64 `json:"daily_loss_limit,omitempty"`
	AllowedHours           []int   `json:"allowed_hours,omitempty"`
	PriceRangeFilterPips   float64 `json:"price_range_filter_pips,omitempty"`
	MartingaleDetection    bool    `json:"martingale_detection,omitempty"`
	GridDetection          bool    `json:"grid_detection,omitempty"`
}

// LoadConfig lee y valida el documento de configuración.
//
// Uso:
//
//	cfg, err := internal.LoadConfig("relay.json")
//	if err != nil {
//	    return err
//	}
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var wire wireConfig
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	env := wire.Settings.Environment
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "development"
	}

	// Defaults (sobrescritos por el documento si existen)
	cfg := &Config{
		PoolBaseURL:        wire.Settings.PoolBaseURL,
		PoolToken:          wire.Settings.PoolToken,
		Backend:            "bolt",
		StatePath:          "relay-state.db",
		PostgresDSN:        wire.Settings.PostgresDSN,
		EventLogPath:       "relay-events.jsonl",
		StatusPath:         "relay-status.json",
		StatusInterval:     30 * time.Second,
		BrokerTimeout:      15 * time.Second,
		ShutdownGrace:      10 * time.Second,
		ReconcileInterval:  15 * time.Minute,
		OrderRatePerSecond: 2,
		OrderBurst:         1,
		ServiceName:        "fxtrueup-relay",
		ServiceVersion:     "1.0.0",
		Environment:        env,
		OTLPEndpoint:       wire.Settings.OTLPEndpoint,
		MetricsEndpoint:    wire.Settings.MetricsEndpoint,
		Accounts:           make(map[string]AccountConfig),
		RuleSets:           make(map[string]*domain.RuleSet),
	}

	if wire.Settings.PoolToken == "" {
		cfg.PoolToken = os.Getenv("POOL_API_TOKEN")
	}
	if wire.Settings.Backend != "" {
		cfg.Backend = wire.Settings.Backend
	}
	if wire.Settings.StatePath != "" {
		cfg.StatePath = wire.Settings.StatePath
	}
	if wire.Settings.EventLogPath != "" {
		cfg.EventLogPath = wire.Settings.EventLogPath
	}
	if wire.Settings.StatusPath != "" {
		cfg.StatusPath = wire.Settings.StatusPath
	}
	if wire.Settings.StatusIntervalS > 0 {
		cfg.StatusInterval = time.Duration(wire.Settings.StatusIntervalS) * time.Second
	}
	if wire.Settings.BrokerTimeoutS > 0 {
		cfg.BrokerTimeout = time.Duration(wire.Settings.BrokerTimeoutS) * time.Second
	}
	if wire.Settings.ShutdownGraceS > 0 {
		cfg.ShutdownGrace = time.Duration(wire.Settings.ShutdownGraceS) * time.Second
	}
	if wire.Settings.ReconcileEveryMn > 0 {
		cfg.ReconcileInterval = time.Duration(wire.Settings.ReconcileEveryMn) * time.Minute
	}
	if wire.Settings.OrderRatePerSecond > 0 {
		cfg.OrderRatePerSecond = wire.Settings.OrderRatePerSecond
	}
	if wire.Settings.OrderBurst > 0 {
		cfg.OrderBurst = wire.Settings.OrderBurst
	}
	if wire.Settings.ServiceName != "" {
		cfg.ServiceName = wire.Settings.ServiceName
	}
	if wire.Settings.ServiceVersion != "" {
		cfg.ServiceVersion = wire.Settings.ServiceVersion
	}

	for _, account := range wire.Accounts {
		if account.ID == "" {
			return nil, fmt.Errorf("account with empty id in config")
		}
		cfg.Accounts[account.ID] = account
	}

	for _, rs := range wire.RuleSets {
		converted, err := convertRuleSet(rs)
		if err != nil {
			return nil, err
		}
		cfg.RuleSets[converted.ID] = converted
	}

	cfg.Routes = wire.Routes

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func convertRuleSet(rs wireRuleSet) (*domain.RuleSet, error) {
	if rs.ID == "" {
		return nil, fmt.Errorf("rule set with empty id in config")
	}

	mode := domain.SizingMode(rs.SizingMode)
	switch mode {
	case domain.SizingFixed, domain.SizingProportional:
	default:
		return nil, fmt.Errorf("rule set %s: unknown sizing mode %q", rs.ID, rs.SizingMode)
	}
	if mode == domain.SizingFixed && rs.FixedLotSize <= 0 {
		return nil, fmt.Errorf("rule set %s: fixed sizing requires fixed_lot_size > 0", rs.ID)
	}
	for _, hour := range rs.AllowedHours {
		if hour < 0 || hour > 23 {
			return nil, fmt.Errorf("rule set %s: allowed hour %d out of range 0..23", rs.ID, hour)
		}
	}

	return &domain.RuleSet{
		ID:                   rs.ID,
		SizingMode:           mode,
		FixedLotSize:         rs.FixedLotSize,
		MaxOpenPositions:     rs.MaxOpenPositions,
		MinTimeBetweenTrades: time.Duration(rs.MinTimeBetweenTradesMn) * time.Minute,
		MaxDailyTrades:       rs.MaxDailyTrades,
		DailyLossLimit:       rs.DailyLossLimit,
		AllowedHours:         rs.AllowedHours,
		PriceRangeFilterPips: rs.PriceRangeFilterPips,
		MartingaleDetection:  rs.MartingaleDetection,
		GridDetection:        rs.GridDetection,
	}, nil
}

func (c *Config) validate() error {
	if c.PoolBaseURL == "" {
		return fmt.Errorf("settings.pool_base_url is required")
	}
	if c.Backend != "bolt" && c.Backend != "postgres" {
		return fmt.Errorf("settings.backend must be bolt or postgres, got %q", c.Backend)
	}
	if c.Backend == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("settings.postgres_dsn is required with the postgres backend")
	}

	seen := make(map[string]bool)
	for _, route := range c.Routes {
		if route.ID == "" {
			return fmt.Errorf("route with empty id in config")
		}
		if seen[route.ID] {
			return fmt.Errorf("duplicate route id %s", route.ID)
		}
		seen[route.ID] = true
	}
	return nil
}

// ValidateRoute chequea las referencias de una ruta. Una ruta inválida
// falla su arranque ruidosamente; las demás rutas continúan.
func (c *Config) ValidateRoute(route *domain.Route) error {
	if _, ok := c.Accounts[route.SourceAccountID]; !ok {
		return domain.NewError(domain.ErrUnknownAccount,
			fmt.Sprintf("route %s references unknown source account %s", route.ID, route.SourceAccountID))
	}
	if _, ok := c.Accounts[route.DestAccountID]; !ok {
		return domain.NewError(domain.ErrUnknownAccount,
			fmt.Sprintf("route %s references unknown dest account %s", route.ID, route.DestAccountID))
	}
	if _, ok := c.RuleSets[route.RuleSetID]; !ok {
		return domain.NewError(domain.ErrRuleSetMissing,
			fmt.Sprintf("route %s references unknown rule set %s", route.ID, route.RuleSetID))
	}
	return nil
}

// EnabledRoutes retorna las rutas habilitadas con referencias válidas y
// la lista de errores de configuración de las inválidas.
func (c *Config) EnabledRoutes() ([]*domain.Route, []error) {
	var routes []*domain.Route
	var errs []error
	for _, route := range c.Routes {
		if !route.Enabled {
			continue
		}
		if err := c.ValidateRoute(route); err != nil {
			errs = append(errs, err)
			continue
		}
		routes = append(routes, route)
	}
	return routes, errs
}

// Region retorna la región configurada para una cuenta.
func (c *Config) Region(accountID string) string {
	if account, ok := c.Accounts[accountID]; ok {
		return account.Region
	}
	return ""
}
