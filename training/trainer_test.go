package training

import (
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	deepio "github.com/Liatwilight/DeepChannel/IO"
	"github.com/Liatwilight/DeepChannel/optimizations"
	"github.com/Liatwilight/DeepChannel/params"
	"github.com/Liatwilight/DeepChannel/sentence"
	"github.com/Liatwilight/DeepChannel/summary"
	"github.com/Liatwilight/DeepChannel/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gonum.org/v1/gonum/mat"
)

const (
	testVocab   = 10
	testWordDim = 4
	testHidden  = 3
)

func testConfig(t *testing.T) params.TrainingConfig {
	cfg := params.DefaultConfig()
	cfg.WordDim = testWordDim
	cfg.HiddenDim = testHidden
	cfg.Dropout = 0
	cfg.MaxEpoch = 1
	cfg.BatchSize = 1
	cfg.NegativeCount = 1
	cfg.LogEvery = 1
	cfg.SaveDir = t.TempDir()
	return cfg
}

func testWeight() *mat.Dense {
	rng := rand.New(rand.NewPCG(42, 42))
	return mat.NewDense(testWordDim, testVocab, utils.GaussianArray(testWordDim*testVocab, 0.5, rng))
}

func tinyDataset(t *testing.T) *deepio.Dataset {
	t.Helper()
	examples := []deepio.Example{
		{Doc: []int{1, 2, 3, 4}, Sum: []int{2, 3}},
		{Doc: []int{5, 6, 7}, Sum: []int{8, 9}},
	}
	d, err := deepio.NewDataset(examples, testWeight(), nil, deepio.Options{BatchSize: 1, NegativeCount: 1, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// sliceSource replays fixed minibatches every epoch.
type sliceSource struct {
	batches []deepio.Minibatch
	weight  *mat.Dense
}

func (s *sliceSource) TrainSize() int { return len(s.batches) }

func (s *sliceSource) NumWords() int {
	_, c := s.weight.Dims()
	return c
}

func (s *sliceSource) Weight() *mat.Dense { return s.weight }

func (s *sliceSource) Batches() deepio.BatchIterator {
	return &sliceIter{batches: s.batches}
}

type sliceIter struct {
	batches []deepio.Minibatch
	pos     int
}

func (it *sliceIter) Next() (deepio.Minibatch, error) {
	if it.pos >= len(it.batches) {
		return deepio.Minibatch{}, io.EOF
	}
	it.pos++
	return it.batches[it.pos-1], nil
}

func blobSize(t *testing.T, path string) int {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatalf("%s is empty", path)
	}
	recs, err := deepio.LoadParams(path)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, r := range recs {
		n += r.Rows * r.Cols
	}
	return n
}

func TestEndToEndTinyDataset(t *testing.T) {
	cfg := testConfig(t)
	tr, err := New(cfg, tinyDataset(t), utils.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.Iterations != 2 || res.Applied+res.Skipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.EncoderPath != filepath.Join(cfg.SaveDir, EncoderBlob) || res.ChannelPath != filepath.Join(cfg.SaveDir, ChannelBlob) {
		t.Fatalf("unexpected blob paths %+v", res)
	}
	// embedding 4x10, weight_ih 9x4, weight_hh 9x3, two 9x1 biases
	if n := blobSize(t, res.EncoderPath); n != 40+36+27+9+9 {
		t.Fatalf("encoder blob holds %d values, want 121", n)
	}
	// W 3x3 and the bias
	if n := blobSize(t, res.ChannelPath); n != 10 {
		t.Fatalf("channel blob holds %d values, want 10", n)
	}
}

func TestEndToEndEveryEncoder(t *testing.T) {
	want := map[string]struct{ enc, ch int }{
		params.EncoderGRU:   {121, 10},
		params.EncoderBiGRU: {40 + 2*(36+27+9+9), 37},
		params.EncoderAVG:   {40, 17},
	}
	for kind, sizes := range want {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.SEType = kind
			cfg.TuneWordEmbedding = true
			cfg.WordDropout = 0.1
			tr, err := New(cfg, tinyDataset(t), utils.DiscardLogger())
			if err != nil {
				t.Fatal(err)
			}
			res, err := tr.Run()
			if err != nil {
				t.Fatal(err)
			}
			if n := blobSize(t, res.EncoderPath); n != sizes.enc {
				t.Errorf("encoder blob holds %d values, want %d", n, sizes.enc)
			}
			if n := blobSize(t, res.ChannelPath); n != sizes.ch {
				t.Errorf("channel blob holds %d values, want %d", n, sizes.ch)
			}
		})
	}
}

// The negative equals the positive, so the loss is exactly 0 and a zero
// margin never opens the gate.
func TestSkippedStepsAreRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Margin = 0
	cfg.MaxEpoch = 2
	doc := sentence.Pad([][]int{{1, 2, 3}}, deepio.PadID)
	sum := sentence.Pad([][]int{{4, 5}}, deepio.PadID)
	src := &sliceSource{
		batches: []deepio.Minibatch{{Doc: doc, Sums: []sentence.Batch{sum, sum}}},
		weight:  testWeight(),
	}
	st, err := summary.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	m := summary.NewMetrics()

	tr, err := New(cfg, src, utils.DiscardLogger(), WithStore(st), WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	before := mat.DenseCopyOf(tr.Channel().Parameters()[0].Value)
	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 || res.Skipped != 2 || res.LastLoss != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !mat.Equal(before, tr.Channel().Parameters()[0].Value) {
		t.Fatal("parameters moved although every step was gated")
	}
	scalars, err := st.Scalars(st.RunID(), "loss")
	if err != nil {
		t.Fatal(err)
	}
	if len(scalars) != 2 || scalars[0].Step != 1 || scalars[1].Step != 2 {
		t.Fatalf("expected a loss for both steps, got %+v", scalars)
	}
	if _, err := os.Stat(filepath.Join(cfg.SaveDir, MetricsFile)); err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
}

func TestLargeMarginAlwaysUpdates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Margin = 10
	cfg.MaxEpoch = 2
	tr, err := New(cfg, tinyDataset(t), utils.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	before := mat.DenseCopyOf(tr.Channel().Parameters()[0].Value)
	res, err := tr.Run()
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 4 || res.Skipped != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if mat.Equal(before, tr.Channel().Parameters()[0].Value) {
		t.Fatal("channel weights did not move")
	}
}

func TestAnnealingReachesFinalTemperature(t *testing.T) {
	cfg := testConfig(t)
	cfg.Anneal = true
	cfg.MaxEpoch = 3
	tr, err := New(cfg, tinyDataset(t), utils.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Run(); err != nil {
		t.Fatal(err)
	}
	if got := tr.State().Temperature; got < 0.0099 || got > 0.0101 {
		t.Fatalf("final temperature %v, want 0.01", got)
	}
	if tr.State().Iteration != 6 {
		t.Fatalf("iterations %d, want 6", tr.State().Iteration)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SEType = "LSTM"
	if _, err := New(cfg, tinyDataset(t), nil); !errors.Is(err, params.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = testConfig(t)
	cfg.WordDim = 5
	if _, err := New(cfg, tinyDataset(t), nil); err == nil {
		t.Fatal("expected an error for word vectors of the wrong size")
	}
}

func TestRunFailsOnUnwritableSaveDir(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.SaveDir = filepath.Join(file, "out")
	tr, err := New(cfg, tinyDataset(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Run(); err == nil {
		t.Fatal("expected a persistence error")
	}
}

func TestRunFailsOnMalformedBatch(t *testing.T) {
	cfg := testConfig(t)
	bad := sentence.Batch{IDs: [][]int{{1, 2}}, Lengths: []int{0}}
	src := &sliceSource{
		batches: []deepio.Minibatch{{Doc: bad, Sums: []sentence.Batch{bad, bad}}},
		weight:  testWeight(),
	}
	tr, err := New(cfg, src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Run(); !errors.Is(err, sentence.ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

// gradientBatch has two examples and three negatives with distinct tokens.
func gradientBatch() deepio.Minibatch {
	return deepio.Minibatch{
		Doc: sentence.Pad([][]int{{1, 2, 3}, {4, 5}}, deepio.PadID),
		Sums: []sentence.Batch{
			sentence.Pad([][]int{{6, 7}, {8}}, deepio.PadID),
			sentence.Pad([][]int{{9, 1, 2}, {3}}, deepio.PadID),
			sentence.Pad([][]int{{5}, {6, 7, 8}}, deepio.PadID),
			sentence.Pad([][]int{{2, 4}, {9, 9}}, deepio.PadID),
		},
	}
}

// sgdTrainer builds a dropout-free SGD trainer and spreads every trainable
// value to N(0, 0.5) so the loss has a non-trivial slope everywhere.
func sgdTrainer(t *testing.T, kind string, lr, clip float64, opts ...Option) *Trainer {
	t.Helper()
	cfg := testConfig(t)
	cfg.SEType = kind
	cfg.TuneWordEmbedding = true
	cfg.Optimizer = params.OptimizerSGD
	cfg.LR = lr
	cfg.WeightDecay = 0
	cfg.Clip = clip
	cfg.Margin = 10
	cfg.NegativeCount = 3
	cfg.WordDropout = 0
	mb := gradientBatch()
	src := &sliceSource{batches: []deepio.Minibatch{mb}, weight: testWeight()}
	tr, err := New(cfg, src, utils.DiscardLogger(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(11, 13))
	for _, p := range tr.trainable {
		r, c := p.Value.Dims()
		p.Value.Copy(mat.NewDense(r, c, utils.GaussianArray(r*c, 0.5, rng)))
	}
	return tr
}

// hingeLoss recomputes bad[argmax] - good with the current parameters.
func hingeLoss(t *testing.T, tr *Trainer, mb deepio.Minibatch) float64 {
	t.Helper()
	D, _, err := tr.encoder.Encode(mb.Doc)
	if err != nil {
		t.Fatal(err)
	}
	scores := make([]float64, len(mb.Sums))
	for k, sb := range mb.Sums {
		S, _, err := tr.encoder.Encode(sb)
		if err != nil {
			t.Fatal(err)
		}
		scores[k], _ = tr.channel.Score(D, S)
	}
	_, loss := HardestNegative(scores[0], scores[1:])
	return loss
}

func snapshot(ps []*optimizations.Param) []*mat.Dense {
	out := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		out[i] = mat.DenseCopyOf(p.Value)
	}
	return out
}

// A plain SGD step moves every weight by LR times the slope of the hinge
// loss against the hardest negative.
func TestStepFollowsHingeGradient(t *testing.T) {
	const (
		lr  = 1e-3
		eps = 1e-5
	)
	for _, kind := range []string{params.EncoderGRU, params.EncoderBiGRU, params.EncoderAVG} {
		t.Run(kind, func(t *testing.T) {
			tr := sgdTrainer(t, kind, lr, 0)
			mb := gradientBatch()

			type cell struct {
				param, i, j int
				want        float64
			}
			var cells []cell
			steepest := 0.0
			for pi, p := range tr.trainable {
				r, c := p.Value.Dims()
				for _, ij := range [][2]int{{0, 0}, {r / 2, c / 2}, {r - 1, c - 1}} {
					orig := p.Value.At(ij[0], ij[1])
					p.Value.Set(ij[0], ij[1], orig+eps)
					plus := hingeLoss(t, tr, mb)
					p.Value.Set(ij[0], ij[1], orig-eps)
					minus := hingeLoss(t, tr, mb)
					p.Value.Set(ij[0], ij[1], orig)
					want := (plus - minus) / (2 * eps)
					steepest = math.Max(steepest, math.Abs(want))
					cells = append(cells, cell{pi, ij[0], ij[1], want})
				}
			}
			if steepest < 1e-4 {
				t.Fatalf("loss is flat in every sampled cell (max slope %g)", steepest)
			}

			before := snapshot(tr.trainable)
			if err := tr.step(mb); err != nil {
				t.Fatal(err)
			}
			if tr.result.Applied != 1 {
				t.Fatalf("step was gated: %+v", tr.result)
			}
			for _, c := range cells {
				p := tr.trainable[c.param]
				got := (before[c.param].At(c.i, c.j) - p.Value.At(c.i, c.j)) / lr
				if diff := math.Abs(got - c.want); diff > 1e-6+1e-4*math.Abs(c.want) {
					t.Errorf("%s[%d,%d]: update/LR=%.8g finite diff=%.8g", p.Name, c.i, c.j, got, c.want)
				}
			}
		})
	}
}

// With a clip far below the raw gradient norm the whole SGD update has norm
// LR*clip.
func TestStepClipsUpdateNorm(t *testing.T) {
	const (
		lr   = 0.5
		clip = 1e-4
	)
	for _, kind := range []string{params.EncoderGRU, params.EncoderBiGRU, params.EncoderAVG} {
		t.Run(kind, func(t *testing.T) {
			m := summary.NewMetrics()
			tr := sgdTrainer(t, kind, lr, clip, WithMetrics(m))
			before := snapshot(tr.trainable)
			if err := tr.step(gradientBatch()); err != nil {
				t.Fatal(err)
			}
			if raw := testutil.ToFloat64(m.GradNorm); raw < 100*clip {
				t.Fatalf("raw gradient norm %g too small to need clipping", raw)
			}
			sq := 0.0
			for i, p := range tr.trainable {
				var d mat.Dense
				d.Sub(before[i], p.Value)
				n := mat.Norm(&d, 2)
				sq += n * n
			}
			if got, want := math.Sqrt(sq), lr*clip; math.Abs(got-want) > 1e-3*want {
				t.Fatalf("update norm %.6g, want %g", got, want)
			}
		})
	}
}
