package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentence encoder strategies.
const (
	EncoderGRU   = "GRU"
	EncoderBiGRU = "BiGRU"
	EncoderAVG   = "AVG"
)

// Optimizers.
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

var ErrInvalidConfig = errors.New("invalid config")

type TrainingConfig struct {
	// Sentence encoder
	SEType            string  `yaml:"se_type"`
	WordDim           int     `yaml:"word_dim"`   // dimension of word embeddings
	HiddenDim         int     `yaml:"hidden_dim"` // hidden units per recurrent layer
	NumLayers         int     `yaml:"num_layers"`
	Dropout           float64 `yaml:"dropout"`
	WordDropout       float64 `yaml:"word_dropout"`
	TuneWordEmbedding bool    `yaml:"tune_word_embedding"`

	// Hinge loss
	Margin        float64 `yaml:"margin"` // must be >= 0
	NegativeCount int     `yaml:"negative_count"`

	// Optimization
	Optimizer   string  `yaml:"optimizer"`
	LR          float64 `yaml:"lr"`
	WeightDecay float64 `yaml:"weight_decay"` // L2 added to the gradient
	Clip        float64 `yaml:"clip"`         // global grad-norm cap, <=0 disables
	AdamBeta1   float64 `yaml:"adam_beta1"`
	AdamBeta2   float64 `yaml:"adam_beta2"`
	AdamEps     float64 `yaml:"adam_eps"`

	MaxEpoch  int   `yaml:"max_epoch"`
	BatchSize int   `yaml:"batch_size"`
	Anneal    bool  `yaml:"anneal"` // decay channel temperature 1 -> 0.01 across epochs
	Seed      int64 `yaml:"seed"`
	Cuda      bool  `yaml:"cuda"` // accepted for compatibility, training always runs on CPU

	DataPath string `yaml:"data_path"`
	SaveDir  string `yaml:"save_dir"`
	LogEvery int    `yaml:"log_every"` // info-level loss line every N iterations (debug logs every one)
	Debug    bool   `yaml:"debug"`
}

// DefaultConfig matches the defaults the model was tuned with.
func DefaultConfig() TrainingConfig {
	return TrainingConfig{
		SEType:    EncoderGRU,
		WordDim:   300,
		HiddenDim: 300,
		NumLayers: 1,
		Dropout:   0.1,

		Margin:        0.123,
		NegativeCount: 4,

		Optimizer:   OptimizerAdam,
		LR:          0.001,
		WeightDecay: 1e-5,
		Clip:        0.5,
		AdamBeta1:   0.9,
		AdamBeta2:   0.999,
		AdamEps:     1e-8,

		MaxEpoch:  5,
		BatchSize: 1,
		Seed:      666,
		LogEvery:  100,
	}
}

// Load reads a YAML config on top of DefaultConfig. Keys missing from the
// file keep their default values.
func Load(path string) (TrainingConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg TrainingConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from DEEPCHANNEL_* variables
// (e.g. DEEPCHANNEL_SE_TYPE, DEEPCHANNEL_LR, DEEPCHANNEL_ANNEAL).
// getenv is usually os.Getenv.
func ApplyEnv(cfg *TrainingConfig, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv("DEEPCHANNEL_" + key); v != "" {
			*dst = v
		}
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv("DEEPCHANNEL_" + key); v != "" {
			n, err := strconv.Atoi(v)
			keep(wrapEnv(key, err))
			if err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv("DEEPCHANNEL_" + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			keep(wrapEnv(key, err))
			if err == nil {
				*dst = f
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv("DEEPCHANNEL_" + key); v != "" {
			b, err := strconv.ParseBool(v)
			keep(wrapEnv(key, err))
			if err == nil {
				*dst = b
			}
		}
	}

	str("SE_TYPE", &cfg.SEType)
	integer("WORD_DIM", &cfg.WordDim)
	integer("HIDDEN_DIM", &cfg.HiddenDim)
	integer("NUM_LAYERS", &cfg.NumLayers)
	float("DROPOUT", &cfg.Dropout)
	float("WORD_DROPOUT", &cfg.WordDropout)
	boolean("TUNE_WORD_EMBEDDING", &cfg.TuneWordEmbedding)
	float("MARGIN", &cfg.Margin)
	integer("NEGATIVE_COUNT", &cfg.NegativeCount)
	str("OPTIMIZER", &cfg.Optimizer)
	float("LR", &cfg.LR)
	float("WEIGHT_DECAY", &cfg.WeightDecay)
	float("CLIP", &cfg.Clip)
	float("ADAM_BETA1", &cfg.AdamBeta1)
	float("ADAM_BETA2", &cfg.AdamBeta2)
	float("ADAM_EPS", &cfg.AdamEps)
	integer("MAX_EPOCH", &cfg.MaxEpoch)
	integer("BATCH_SIZE", &cfg.BatchSize)
	boolean("ANNEAL", &cfg.Anneal)
	boolean("CUDA", &cfg.Cuda)
	str("DATA_PATH", &cfg.DataPath)
	str("SAVE_DIR", &cfg.SaveDir)
	integer("LOG_EVERY", &cfg.LogEvery)
	boolean("DEBUG", &cfg.Debug)
	if v := getenv("DEEPCHANNEL_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		keep(wrapEnv("SEED", err))
		if err == nil {
			cfg.Seed = n
		}
	}
	return firstErr
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("DEEPCHANNEL_%s: %w", key, err)
}

// Validate rejects configs the trainer cannot run with.
func (c TrainingConfig) Validate() error {
	var problems []string
	switch c.SEType {
	case EncoderGRU, EncoderBiGRU, EncoderAVG:
	default:
		problems = append(problems, fmt.Sprintf("se_type %q (want GRU, BiGRU or AVG)", c.SEType))
	}
	switch c.Optimizer {
	case OptimizerAdam, OptimizerSGD:
	default:
		problems = append(problems, fmt.Sprintf("optimizer %q (want adam or sgd)", c.Optimizer))
	}
	if c.WordDim <= 0 {
		problems = append(problems, "word_dim must be > 0")
	}
	if c.SEType != EncoderAVG && c.HiddenDim <= 0 {
		problems = append(problems, "hidden_dim must be > 0")
	}
	if c.SEType != EncoderAVG && c.NumLayers <= 0 {
		problems = append(problems, "num_layers must be > 0")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		problems = append(problems, "dropout must be in [0,1)")
	}
	if c.WordDropout < 0 || c.WordDropout >= 1 {
		problems = append(problems, "word_dropout must be in [0,1)")
	}
	if c.Margin < 0 {
		problems = append(problems, "margin must be >= 0")
	}
	if c.NegativeCount <= 0 {
		problems = append(problems, "negative_count must be > 0")
	}
	if c.LR <= 0 {
		problems = append(problems, "lr must be > 0")
	}
	if c.MaxEpoch <= 0 {
		problems = append(problems, "max_epoch must be > 0")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
