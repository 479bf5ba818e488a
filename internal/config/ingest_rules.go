package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// IngestRules are the tunable normalization rules, reloaded from ingest.yml without a restart.
type IngestRules struct {
	ProviderAliases           map[string]string `mapstructure:"providerAliases"`
	DefaultRecommendationType string            `mapstructure:"defaultRecommendationType"`
}

func DefaultIngestRules() IngestRules {
	return IngestRules{
		ProviderAliases: map[string]string{
			"amazon":    "aws",
			"amazonaws": "aws",
			"microsoft": "azure",
			"google":    "gcp",
		},
		DefaultRecommendationType: "General",
	}
}

type IngestRulesHolder struct {
	current atomic.Value // holds IngestRules
}

// NewIngestRulesHolder reads ingest.yml from the usual config paths and watches it for changes.
// A missing file is not an error: the defaults are used.
func NewIngestRulesHolder() (*IngestRulesHolder, error) {
	v := viper.New()

	v.SetConfigName("ingest")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/cloudunify/config")
	v.AddConfigPath("/etc/cloudunify")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLOUDUNIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return newIngestRulesHolder(v)
}

// LoadIngestRulesFile is NewIngestRulesHolder for an explicit file path.
func LoadIngestRulesFile(path string) (*IngestRulesHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return newIngestRulesHolder(v)
}

// StaticIngestRules returns a holder that never reloads.
func StaticIngestRules(rules IngestRules) *IngestRulesHolder {
	holder := &IngestRulesHolder{}
	holder.current.Store(withRuleDefaults(rules))
	return holder
}

func newIngestRulesHolder(v *viper.Viper) (*IngestRulesHolder, error) {
	holder := &IngestRulesHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(DefaultIngestRules())
		return holder, nil
	}

	rules, err := readIngestRules(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(rules)

	log := zap.L().Named("config.ingest_rules")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readIngestRules(v)
		if err != nil {
			log.Warn("ingest rules reload ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("ingest rules reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *IngestRulesHolder) Get() IngestRules {
	if h == nil {
		return DefaultIngestRules()
	}
	rules, ok := h.current.Load().(IngestRules)
	if !ok {
		return DefaultIngestRules()
	}
	return rules
}

func readIngestRules(v *viper.Viper) (IngestRules, error) {
	var rules IngestRules
	if err := v.UnmarshalKey("ingest", &rules); err != nil {
		return IngestRules{}, err
	}
	if err := validateIngestRules(rules); err != nil {
		return IngestRules{}, err
	}
	return withRuleDefaults(rules), nil
}

func validateIngestRules(rules IngestRules) error {
	for alias, target := range rules.ProviderAliases {
		if strings.TrimSpace(alias) == "" {
			return errors.New("ingest.providerAliases contains an empty alias")
		}
		switch strings.ToLower(strings.TrimSpace(target)) {
		case "aws", "azure", "gcp":
		default:
			return errors.New("ingest.providerAliases." + alias + " must map to aws, azure or gcp")
		}
	}
	return nil
}

// withRuleDefaults keeps the built-in aliases; configured entries override them.
func withRuleDefaults(rules IngestRules) IngestRules {
	defaults := DefaultIngestRules()
	aliases := make(map[string]string, len(defaults.ProviderAliases)+len(rules.ProviderAliases))
	for alias, target := range defaults.ProviderAliases {
		aliases[alias] = target
	}
	for alias, target := range rules.ProviderAliases {
		aliases[strings.ToLower(strings.TrimSpace(alias))] = strings.ToLower(strings.TrimSpace(target))
	}
	rules.ProviderAliases = aliases
	if strings.TrimSpace(rules.DefaultRecommendationType) == "" {
		rules.DefaultRecommendationType = defaults.DefaultRecommendationType
	}
	return rules
}
