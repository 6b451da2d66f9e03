package training

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	deepio "github.com/Liatwilight/DeepChannel/IO"
	"github.com/Liatwilight/DeepChannel/channel"
	"github.com/Liatwilight/DeepChannel/optimizations"
	"github.com/Liatwilight/DeepChannel/params"
	"github.com/Liatwilight/DeepChannel/sentence"
	"github.com/Liatwilight/DeepChannel/summary"
	"github.com/Liatwilight/DeepChannel/utils"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"
)

const (
	EncoderBlob = "se.gob"
	ChannelBlob = "channel.gob"
	MetricsFile = "metrics.prom"

	runningAvgDecay = 0.99
)

// State is the trainer's running state.
type State struct {
	Iteration      int
	Progress       float64 // epoch + batch/TrainSize
	Temperature    float64
	RunningAvgLoss float64
}

type Result struct {
	Iterations  int
	Applied     int
	Skipped     int
	LastLoss    float64
	EncoderPath string
	ChannelPath string
}

type Option func(*Trainer)

// WithStore records every step's loss in st under a new run.
func WithStore(st *summary.Store) Option {
	return func(t *Trainer) { t.store = st }
}

// WithMetrics updates m every step and writes it to save_dir/metrics.prom
// after each epoch.
func WithMetrics(m *summary.Metrics) Option {
	return func(t *Trainer) { t.metrics = m }
}

type Trainer struct {
	cfg    params.TrainingConfig
	src    deepio.Source
	logger *slog.Logger

	encoder   *sentence.SentenceEmbedding
	channel   *channel.Model
	trainable []*optimizations.Param
	opt       optimizations.Optimizer

	store   *summary.Store
	metrics *summary.Metrics
	infoLog rate.Sometimes

	state  State
	result Result
}

// New builds the encoder and channel model, seeds the word vectors from src
// and picks the optimizer.
func New(cfg params.TrainingConfig, src deepio.Source, logger *slog.Logger, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SaveDir == "" {
		return nil, fmt.Errorf("%w: save_dir is required", params.ErrInvalidConfig)
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	if cfg.Cuda {
		logger.Warn("cuda requested; training runs on CPU")
	}
	seed := uint64(cfg.Seed)
	rng := rand.New(rand.NewPCG(seed, seed))

	enc, err := sentence.New(sentence.Config{
		Type:              cfg.SEType,
		NumWords:          src.NumWords(),
		WordDim:           cfg.WordDim,
		HiddenDim:         cfg.HiddenDim,
		NumLayers:         cfg.NumLayers,
		Dropout:           cfg.Dropout,
		WordDropout:       cfg.WordDropout,
		TuneWordEmbedding: cfg.TuneWordEmbedding,
	}, rng)
	if err != nil {
		return nil, err
	}
	if err := enc.LoadWordVectors(src.Weight()); err != nil {
		return nil, err
	}
	ch := channel.New(enc.Dim(), rng)

	trainable := append(enc.Parameters(), ch.Parameters()...)
	opt, err := optimizations.New(cfg.Optimizer, cfg.LR, cfg.WeightDecay, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", params.ErrInvalidConfig, err)
	}

	t := &Trainer{
		cfg:       cfg,
		src:       src,
		logger:    logger,
		encoder:   enc,
		channel:   ch,
		trainable: trainable,
		opt:       opt,
		infoLog:   rate.Sometimes{First: 1, Every: max(cfg.LogEvery, 1)},
		state:     State{Temperature: ch.Temperature},
	}
	for _, o := range opts {
		o(t)
	}

	size := 0
	for _, p := range trainable {
		size += p.Size()
	}
	logger.Info("model built",
		"se_type", cfg.SEType, "se_dim", enc.Dim(),
		"num_words", src.NumWords(), "trainable_params", size,
		"tune_word_embedding", cfg.TuneWordEmbedding, "optimizer", cfg.Optimizer)
	return t, nil
}

func (t *Trainer) Channel() *channel.Model { return t.channel }

func (t *Trainer) State() State { return t.state }

// Run trains for MaxEpoch epochs and then writes both parameter blobs.
func (t *Trainer) Run() (Result, error) {
	if t.store != nil {
		if _, err := t.store.StartRun(t.cfg); err != nil {
			return t.result, err
		}
	}
	t.encoder.SetTraining(true)
	trainSize := max(t.src.TrainSize(), 1)
	for epoch := 0; epoch < t.cfg.MaxEpoch; epoch++ {
		if t.cfg.Anneal {
			t.channel.Temperature = AnnealedTemperature(epoch, t.cfg.MaxEpoch)
			t.state.Temperature = t.channel.Temperature
			t.logger.Info("temperature annealed", "epoch", epoch, "temperature", t.channel.Temperature)
		}
		if t.metrics != nil {
			t.metrics.Temperature.Set(t.channel.Temperature)
		}
		it := t.src.Batches()
		for batchIter := 0; ; batchIter++ {
			mb, err := it.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return t.result, fmt.Errorf("epoch %d batch %d: %w", epoch, batchIter, err)
			}
			t.state.Progress = float64(epoch) + float64(batchIter)/float64(trainSize)
			t.state.Iteration++
			if err := t.step(mb); err != nil {
				return t.result, fmt.Errorf("iteration %d: %w", t.state.Iteration, err)
			}
		}
		if t.metrics != nil {
			t.metrics.Epoch.Set(float64(epoch + 1))
			if err := t.metrics.WriteTextfile(filepath.Join(t.cfg.SaveDir, MetricsFile)); err != nil {
				t.logger.Warn("write metrics", "err", err)
			}
		}
	}
	t.result.Iterations = t.state.Iteration
	if err := t.finalize(); err != nil {
		return t.result, err
	}
	return t.result, nil
}

// step runs one minibatch: encode the document once and every summary,
// score them, and update from the positive and the hardest negative when the
// margin gate opens. The loss is recorded either way.
func (t *Trainer) step(mb deepio.Minibatch) error {
	if len(mb.Sums) < 2 {
		return fmt.Errorf("minibatch has %d summary batches, need a positive and at least one negative", len(mb.Sums))
	}
	D, docTrace, err := t.encoder.Encode(mb.Doc)
	if err != nil {
		return fmt.Errorf("document: %w", err)
	}
	sumTraces := make([]*sentence.Trace, len(mb.Sums))
	scoreTraces := make([]*channel.Trace, len(mb.Sums))
	scores := make([]float64, len(mb.Sums))
	for k, sb := range mb.Sums {
		S, tr, err := t.encoder.Encode(sb)
		if err != nil {
			return fmt.Errorf("summary %d: %w", k, err)
		}
		sumTraces[k] = tr
		scores[k], scoreTraces[k] = t.channel.Score(D, S)
	}

	badIndex, loss := HardestNegative(scores[0], scores[1:])
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		t.logger.Warn("non-finite loss", "iteration", t.state.Iteration, "loss", loss)
	}

	applied := ShouldUpdate(loss, t.cfg.Margin)
	if applied {
		t.opt.ZeroGrad(t.trainable)
		bad := badIndex + 1
		// loss = bad - good
		dDGood, dSGood := t.channel.Backward(scoreTraces[0], -1)
		dDBad, dSBad := t.channel.Backward(scoreTraces[bad], 1)
		var dD mat.Dense
		dD.Add(dDGood, dDBad)
		t.encoder.Backward(docTrace, &dD)
		t.encoder.Backward(sumTraces[0], dSGood)
		t.encoder.Backward(sumTraces[bad], dSBad)

		norm, _ := utils.ClipGrads(t.cfg.Clip, optimizations.Grads(t.trainable)...)
		t.opt.Step(t.trainable)
		t.result.Applied++
		if t.metrics != nil {
			t.metrics.GradNorm.Set(norm)
		}
	} else {
		t.result.Skipped++
	}
	t.result.LastLoss = loss
	t.state.RunningAvgLoss = RunningAverage(loss, t.state.RunningAvgLoss, runningAvgDecay)

	if t.store != nil {
		if err := t.store.AddScalar("loss", t.state.Iteration, loss); err != nil {
			return err
		}
	}
	if t.metrics != nil {
		t.metrics.ObserveStep(loss, t.state.RunningAvgLoss, applied)
	}
	t.logger.Debug("step",
		"epoch", fmt.Sprintf("%.2f", t.state.Progress), "loss", loss,
		"bad_index", badIndex, "updated", applied)
	t.infoLog.Do(func() {
		t.logger.Info("training",
			"epoch", fmt.Sprintf("%.2f", t.state.Progress),
			"iteration", t.state.Iteration,
			"loss", fmt.Sprintf("%.4f", loss),
			"running_avg", fmt.Sprintf("%.4f", t.state.RunningAvgLoss))
	})
	return nil
}

// finalize writes se.gob and channel.gob into the save dir.
func (t *Trainer) finalize() error {
	if err := os.MkdirAll(t.cfg.SaveDir, 0o755); err != nil {
		return fmt.Errorf("create save dir: %w", err)
	}
	encPath := filepath.Join(t.cfg.SaveDir, EncoderBlob)
	if err := deepio.SaveParams(encPath, t.encoder.StateParams()); err != nil {
		return fmt.Errorf("save sentence encoder: %w", err)
	}
	chPath := filepath.Join(t.cfg.SaveDir, ChannelBlob)
	if err := deepio.SaveParams(chPath, t.channel.Parameters()); err != nil {
		return fmt.Errorf("save channel model: %w", err)
	}
	t.result.EncoderPath = encPath
	t.result.ChannelPath = chPath
	if t.store != nil {
		if err := t.store.FinishRun(t.state.Iteration); err != nil {
			return err
		}
	}
	t.logger.Info("training finished",
		"iterations", t.result.Iterations,
		"applied", t.result.Applied, "skipped", t.result.Skipped,
		"encoder", encPath, "channel", chPath)
	return nil
}
