package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/Liatwilight/DeepChannel/IO"
	"github.com/Liatwilight/DeepChannel/params"
	"github.com/Liatwilight/DeepChannel/summary"
	"github.com/Liatwilight/DeepChannel/training"
	"github.com/Liatwilight/DeepChannel/utils"
)

var (
	configPath string
	buildFlag  bool
	inspectArg string
	runsArg    string
	cleanFlag  bool

	// dataset building
	inputPath     string
	tokenizerPath string
	glovePath     string
	vocabSize     int
	maxDocLen     int
	maxSumLen     int

	// training overrides
	seType      string
	dataPath    string
	saveDir     string
	maxEpoch    int
	lr          float64
	margin      float64
	optimizer   string
	anneal      bool
	tuneWords   bool
	debugFlag   bool
	seed        int64
	hiddenDim   int
	wordDim     int
	numLayers   int
	negatives   int
	batchSize   int
	clip        float64
	cudaFlag    bool
	logEvery    int
	dropout     float64
	wordDrop    float64
	weightDecay float64
)

func init() {
	flag.StringVar(&configPath, "config", "", "YAML training config (defaults are used for missing keys)")
	flag.BoolVar(&buildFlag, "build", false, "Build a dataset dump from -input instead of training")
	flag.StringVar(&inspectArg, "inspect", "", "Print the contents of a parameter blob and exit")
	flag.StringVar(&runsArg, "runs", "", "List the runs recorded in a summary database and exit")
	flag.BoolVar(&cleanFlag, "clean", false, "Remove the save dir before training")

	flag.StringVar(&inputPath, "input", "", "JSONL corpus with document/summary fields (-build)")
	flag.StringVar(&tokenizerPath, "tokenizer", "", "tokenizer.json; a word-level vocab is built when empty (-build)")
	flag.StringVar(&glovePath, "glove", "", "GloVe text file used to seed word vectors (-build)")
	flag.IntVar(&vocabSize, "vocab-size", 50000, "word-level vocab size (-build without -tokenizer)")
	flag.IntVar(&maxDocLen, "max-doc-len", 0, "truncate documents to this many tokens, 0 keeps all (-build)")
	flag.IntVar(&maxSumLen, "max-sum-len", 0, "truncate summaries to this many tokens, 0 keeps all (-build)")

	flag.StringVar(&seType, "se-type", "", "sentence encoder: GRU, BiGRU or AVG")
	flag.StringVar(&dataPath, "data-path", "", "dataset dump written by -build (also the -build output)")
	flag.StringVar(&saveDir, "save-dir", "", "directory for parameter blobs, logs and summaries")
	flag.IntVar(&maxEpoch, "max-epoch", 0, "number of epochs")
	flag.Float64Var(&lr, "lr", 0, "initial learning rate")
	flag.Float64Var(&margin, "margin", 0, "margin of the hinge loss, must be >= 0")
	flag.StringVar(&optimizer, "optimizer", "", "adam or sgd")
	flag.BoolVar(&anneal, "anneal", false, "anneal the channel temperature from 1 to 0.01")
	flag.BoolVar(&tuneWords, "tune-word-embedding", false, "fine tune the pretrained word vectors")
	flag.BoolVar(&debugFlag, "debug", false, "log every step")
	flag.Int64Var(&seed, "seed", 0, "random seed")
	flag.IntVar(&hiddenDim, "hidden-dim", 0, "hidden units per recurrent layer")
	flag.IntVar(&wordDim, "word-dim", 0, "dimension of word embeddings")
	flag.IntVar(&numLayers, "num-layers", 0, "number of recurrent layers")
	flag.IntVar(&negatives, "negative-count", 0, "negative summaries per example")
	flag.IntVar(&batchSize, "batch-size", 0, "examples per minibatch")
	flag.Float64Var(&clip, "clip", 0, "max global grad norm")
	flag.BoolVar(&cudaFlag, "cuda", false, "accepted for compatibility; training runs on CPU")
	flag.IntVar(&logEvery, "log-every", 0, "info-level loss line every N iterations")
	flag.Float64Var(&dropout, "dropout", 0, "dropout between stacked recurrent layers")
	flag.Float64Var(&wordDrop, "word-dropout", 0, "dropout on word vectors")
	flag.Float64Var(&weightDecay, "weight-decay", 0, "L2 weight decay")
}

func main() {
	flag.Parse()
	// .env is optional
	_ = godotenv.Load()

	if inspectArg != "" {
		if err := InspectBlob(os.Stdout, inspectArg); err != nil {
			log.Fatalf("inspect: %v", err)
		}
		return
	}
	if runsArg != "" {
		if err := ListRuns(os.Stdout, runsArg); err != nil {
			log.Fatalf("runs: %v", err)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if buildFlag {
		if err := buildDataset(cfg); err != nil {
			log.Fatalf("build: %v", err)
		}
		return
	}

	if err := train(cfg); err != nil {
		log.Fatalf("train: %v", err)
	}
}

// loadConfig layers defaults, the YAML file, DEEPCHANNEL_* variables and
// explicitly set flags, in that order.
func loadConfig() (params.TrainingConfig, error) {
	cfg := params.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = params.Load(configPath); err != nil {
			return cfg, err
		}
	}
	if err := params.ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "se-type":
			cfg.SEType = seType
		case "data-path":
			cfg.DataPath = dataPath
		case "save-dir":
			cfg.SaveDir = saveDir
		case "max-epoch":
			cfg.MaxEpoch = maxEpoch
		case "lr":
			cfg.LR = lr
		case "margin":
			cfg.Margin = margin
		case "optimizer":
			cfg.Optimizer = optimizer
		case "anneal":
			cfg.Anneal = anneal
		case "tune-word-embedding":
			cfg.TuneWordEmbedding = tuneWords
		case "debug":
			cfg.Debug = debugFlag
		case "seed":
			cfg.Seed = seed
		case "hidden-dim":
			cfg.HiddenDim = hiddenDim
		case "word-dim":
			cfg.WordDim = wordDim
		case "num-layers":
			cfg.NumLayers = numLayers
		case "negative-count":
			cfg.NegativeCount = negatives
		case "batch-size":
			cfg.BatchSize = batchSize
		case "clip":
			cfg.Clip = clip
		case "cuda":
			cfg.Cuda = cudaFlag
		case "log-every":
			cfg.LogEvery = logEvery
		case "dropout":
			cfg.Dropout = dropout
		case "word-dropout":
			cfg.WordDropout = wordDrop
		case "weight-decay":
			cfg.WeightDecay = weightDecay
		}
	})
	return cfg, nil
}

func train(cfg params.TrainingConfig) error {
	if cfg.DataPath == "" || cfg.SaveDir == "" {
		return fmt.Errorf("data_path and save_dir are required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cleanFlag {
		if err := os.RemoveAll(cfg.SaveDir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger, closer := utils.NewLogger(cfg.SaveDir, level)
	defer closer.Close()
	logger.Info("config", "cfg", fmt.Sprintf("%+v", cfg))
	if err := params.Save(filepath.Join(cfg.SaveDir, "config.yaml"), cfg); err != nil {
		return err
	}

	logger.Info("loading data", "path", cfg.DataPath)
	data, err := IO.LoadDataset(cfg.DataPath, IO.Options{
		BatchSize:     cfg.BatchSize,
		NegativeCount: cfg.NegativeCount,
		Seed:          cfg.Seed,
	})
	if err != nil {
		return err
	}
	logger.Info("data loaded", "examples", data.Len(), "batches_per_epoch", data.TrainSize(), "num_words", data.NumWords())

	store, err := summary.Open(filepath.Join(cfg.SaveDir, "summary.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	tr, err := training.New(cfg, data, logger,
		training.WithStore(store),
		training.WithMetrics(summary.NewMetrics()))
	if err != nil {
		return err
	}
	res, err := tr.Run()
	if err != nil {
		return err
	}
	fmt.Printf("✅ Trained %d iterations (%d updates, %d skipped), run %s\n",
		res.Iterations, res.Applied, res.Skipped, store.RunID())
	fmt.Println("   ", res.EncoderPath)
	fmt.Println("   ", res.ChannelPath)
	return nil
}

func buildDataset(cfg params.TrainingConfig) error {
	if inputPath == "" || cfg.DataPath == "" {
		return fmt.Errorf("-input and -data-path are required")
	}
	logger, closer := utils.NewLogger("", slog.LevelInfo)
	defer closer.Close()

	var enc IO.TextEncoder
	if tokenizerPath != "" {
		bpe, err := IO.LoadBPE(tokenizerPath)
		if err != nil {
			return err
		}
		enc = bpe
	} else {
		texts, err := readCorpusText(inputPath)
		if err != nil {
			return err
		}
		enc = IO.NewWordTokenizer(texts, vocabSize)
	}
	fmt.Println("Building dataset...")
	d, err := IO.BuildDataset(enc, IO.BuildOptions{
		InputPath: inputPath,
		OutPath:   cfg.DataPath,
		GloVePath: glovePath,
		WordDim:   cfg.WordDim,
		MaxDocLen: maxDocLen,
		MaxSumLen: maxSumLen,
		Seed:      cfg.Seed,
	}, logger)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Wrote %d examples to %s\n", d.Len(), cfg.DataPath)
	return nil
}
