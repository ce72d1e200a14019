package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RoutingConfig maps checkout countries to an ordered provider preference
// list. Operators can override the compiled-in defaults with a routing.yml
// and the holder picks changes up live.
type RoutingConfig struct {
	Regions []RegionRoute `mapstructure:"regions"`
	Default []string      `mapstructure:"default"`
}

// RegionRoute binds a set of ISO-3166 alpha-2 countries to providers in
// preference order.
type RegionRoute struct {
	Countries []string `mapstructure:"countries"`
	Providers []string `mapstructure:"providers"`
}

func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Regions: []RegionRoute{
			{
				Countries: []string{"EG"},
				Providers: []string{"paymob", "stripe"},
			},
			{
				Countries: []string{"SA", "AE", "KW", "QA", "BH", "OM"},
				Providers: []string{"paytabs", "stripe"},
			},
			{
				Countries: []string{
					"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR",
					"DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL",
					"PL", "PT", "RO", "SK", "SI", "ES", "SE", "GB",
				},
				Providers: []string{"paddle", "stripe"},
			},
		},
		Default: []string{"stripe", "paddle"},
	}
}

// RoutingHolder hands out the current routing table; reads are lock-free.
type RoutingHolder struct {
	current atomic.Value // holds routingTable
	log     *zap.Logger
}

type routingTable struct {
	byCountry map[string][]string
	fallback  []string
}

// NewRoutingHolder loads routing.yml if present, otherwise uses defaults,
// and watches the file for changes.
func NewRoutingHolder(log *zap.Logger) (*RoutingHolder, error) {
	v := viper.New()
	v.SetConfigName("routing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/wasla")
	v.AddConfigPath(".")
	v.SetEnvPrefix("WASLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &RoutingHolder{log: log.Named("config.routing")}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.store(DefaultRoutingConfig())
		return holder, nil
	}

	cfg, err := unmarshalRouting(v)
	if err != nil {
		return nil, err
	}
	holder.store(cfg)

	v.OnConfigChange(func(fsnotify.Event) {
		next, err := unmarshalRouting(v)
		if err != nil {
			holder.log.Warn("routing config reload failed; keeping previous table", zap.Error(err))
			return
		}
		holder.store(next)
		holder.log.Info("routing config reloaded")
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticRoutingHolder wraps a fixed config, used by tests.
func NewStaticRoutingHolder(cfg RoutingConfig) *RoutingHolder {
	holder := &RoutingHolder{log: zap.NewNop()}
	holder.store(cfg)
	return holder
}

func unmarshalRouting(v *viper.Viper) (RoutingConfig, error) {
	var cfg RoutingConfig
	if err := v.UnmarshalKey("routing", &cfg); err != nil {
		return RoutingConfig{}, err
	}
	if len(cfg.Default) == 0 && len(cfg.Regions) == 0 {
		cfg = DefaultRoutingConfig()
	}
	return cfg, nil
}

func (h *RoutingHolder) store(cfg RoutingConfig) {
	table := routingTable{
		byCountry: map[string][]string{},
		fallback:  normalizeProviders(cfg.Default),
	}
	if len(table.fallback) == 0 {
		table.fallback = DefaultRoutingConfig().Default
	}
	for _, region := range cfg.Regions {
		providers := normalizeProviders(region.Providers)
		if len(providers) == 0 {
			continue
		}
		for _, country := range region.Countries {
			code := strings.ToUpper(strings.TrimSpace(country))
			if code == "" {
				continue
			}
			table.byCountry[code] = providers
		}
	}
	h.current.Store(table)
}

// PreferenceFor returns the ordered provider list for a country, falling
// back to the default list for unmatched or empty countries.
func (h *RoutingHolder) PreferenceFor(countryCode string) []string {
	table, _ := h.current.Load().(routingTable)
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if code != "" {
		if providers, ok := table.byCountry[code]; ok {
			return providers
		}
	}
	return table.fallback
}

func normalizeProviders(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
