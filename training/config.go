package training

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"smartaliens/agent"
	"smartaliens/neuroevo"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Kind is the only config kind this application reads.
const Kind = "neuroevolution"

// ErrConfigKind is returned when a config file declares some other kind.
var ErrConfigKind error = errors.New("unsupported config kind")

// OuterConfig is the envelope every config file shares: a kind, and a definition
// whose shape depends on it.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig holds everything needed to train outside of code: the level,
// the population settings, and the learning algorithm with its hyper-parameters.
// Viper lower-cases every key it reads, so the yaml tags are lower case while
// config files may use camel case.
type TrainingConfig struct {
	// HyperParams is a key-val pair of param names and their value.
	HyperParams []HyperParameter `yaml:"hyperparams"`
	// Algorithm is an alg selector: {name: ga}.
	Algorithm map[string]string `yaml:"algorithm"`
	// TrainingDeadline is a duration after which training stops: {duration: 30m}.
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
	Population       PopulationConfig  `yaml:"population"`
	// Level names a built-in level: earth, ice or mix.
	Level string `yaml:"level"`
}

// PopulationConfig are the settings of the Start command issued at launch.
type PopulationConfig struct {
	Size               int     `yaml:"size"`
	DecisionsPerSecond int     `yaml:"decisionspersecond"`
	AgentSpeed         float64 `yaml:"agentspeed"`
	// AutoStart starts training at launch instead of waiting for a start command.
	AutoStart bool `yaml:"autostart"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// Default is the configuration used for whatever a config file leaves out.
func Default() *TrainingConfig {
	return &TrainingConfig{
		Algorithm: map[string]string{"name": "ga"},
		Population: PopulationConfig{
			Size:               10,
			DecisionsPerSecond: 4,
			AgentSpeed:         1,
			AutoStart:          true,
		},
		Level: "earth",
	}
}

func (cfg *TrainingConfig) applyDefaults() {
	def := Default()
	if cfg.Algorithm == nil {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.Population.Size == 0 {
		cfg.Population.Size = def.Population.Size
	}
	if cfg.Population.DecisionsPerSecond == 0 {
		cfg.Population.DecisionsPerSecond = def.Population.DecisionsPerSecond
	}
	if cfg.Population.AgentSpeed == 0 {
		cfg.Population.AgentSpeed = def.Population.AgentSpeed
	}
	if cfg.Level == "" {
		cfg.Level = def.Level
	}
}

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// AlgorithmName is the selected learning algorithm.
func (cfg *TrainingConfig) AlgorithmName() string {
	return cfg.Algorithm["name"]
}

// EngineParams reads the built-in engine's hyper-parameters.
func (cfg *TrainingConfig) EngineParams() neuroevo.Params {
	def := neuroevo.DefaultParams()
	return neuroevo.Params{
		Hidden:         int(cfg.GetHyperParamOrDefault("hidden", float64(def.Hidden))),
		MutationRate:   cfg.GetHyperParamOrDefault("mutationRate", def.MutationRate),
		MutationSigma:  cfg.GetHyperParamOrDefault("mutationSigma", def.MutationSigma),
		ResetRate:      cfg.GetHyperParamOrDefault("resetRate", def.ResetRate),
		Elitism:        int(cfg.GetHyperParamOrDefault("elitism", float64(def.Elitism))),
		TournamentSize: int(cfg.GetHyperParamOrDefault("tournamentSize", float64(def.TournamentSize))),
		Seed:           int64(cfg.GetHyperParamOrDefault("seed", float64(def.Seed))),
	}
}

// AgentConfig reads the agents' tunables. Speed comes from the population settings.
func (cfg *TrainingConfig) AgentConfig() agent.Config {
	ac := agent.DefaultConfig()
	ac.Radius = cfg.GetHyperParamOrDefault("agentRadius", ac.Radius)
	ac.Speed = cfg.Population.AgentSpeed
	ac.TerminalBonus = cfg.GetHyperParamOrDefault("terminalBonus", ac.TerminalBonus)
	ac.Health = int(cfg.GetHyperParamOrDefault("health", float64(ac.Health)))
	delayMs := cfg.GetHyperParamOrDefault("activationDelayMs", float64(ac.ActivationDelay/time.Millisecond))
	ac.ActivationDelay = time.Duration(delayMs * float64(time.Millisecond))
	return ac
}

// Rewards are the fitness granted for a checkpoint and for the trophy.
func (cfg *TrainingConfig) Rewards() (checkpoint, trophy float64) {
	return cfg.GetHyperParamOrDefault("checkpointReward", 1),
		cfg.GetHyperParamOrDefault("trophyReward", 10)
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return nil, nil, fmt.Errorf("training deadline: %w", err)
		}
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// FromYaml reads a config file through viper, then decodes its definition
// into a TrainingConfig with defaults filled in.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != Kind {
		return nil, fmt.Errorf("%w: %q", ErrConfigKind, outerConfig.Kind)
	}

	var spec []byte
	if spec, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	innerConfig := &TrainingConfig{}
	if err = yaml.Unmarshal(spec, innerConfig); err != nil {
		return nil, err
	}
	innerConfig.applyDefaults()

	return innerConfig, nil
}
