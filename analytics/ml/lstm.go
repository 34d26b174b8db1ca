// Sequence forecasting with stacked LSTM layers.
// The network is a small, dependency-free recurrent regressor trained with Adam
// on mean squared error; weights round-trip through JSON.
package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrNotTrained is returned when predicting with an untrained model
var ErrNotTrained = errors.New("model is not trained")

// ForecasterConfig defines the network shape and training schedule
type ForecasterConfig struct {
	InputSize    int     `json:"input_size"`
	Hidden1      int     `json:"hidden1"`
	Hidden2      int     `json:"hidden2"`
	Dropout      float64 `json:"dropout"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	Patience     int     `json:"patience"`
	Seed         int64   `json:"seed"`
}

// Validate checks the configuration
func (c ForecasterConfig) Validate() error {
	if c.InputSize <= 0 || c.Hidden1 <= 0 || c.Hidden2 <= 0 {
		return fmt.Errorf("layer sizes must be positive")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %f", c.Dropout)
	}
	if c.Epochs <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("epochs and batch size must be positive")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	if c.Patience <= 0 {
		return fmt.Errorf("patience must be positive")
	}
	return nil
}

// LSTMLayer holds the weights of one recurrent layer. Gate blocks are stacked in
// the order input, forget, cell, output; Wx is 4H×In and Wh is 4H×H, row-major.
type LSTMLayer struct {
	In     int       `json:"in"`
	Hidden int       `json:"hidden"`
	Wx     []float64 `json:"wx"`
	Wh     []float64 `json:"wh"`
	B      []float64 `json:"b"`
}

// DenseLayer is the linear output unit
type DenseLayer struct {
	W []float64 `json:"w"`
	B []float64 `json:"b"`
}

// EpochStats records the losses of one epoch
type EpochStats struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"val_loss"`
}

// TrainingHistory summarizes a training run
type TrainingHistory struct {
	Epochs       []EpochStats `json:"epochs"`
	BestEpoch    int          `json:"best_epoch"`
	BestValLoss  float64      `json:"best_val_loss"`
	StoppedEarly bool         `json:"stopped_early"`
}

// Forecaster is a two-layer LSTM regressor: LSTM(H1, full sequence) → dropout →
// LSTM(H2, last state) → dropout → Dense(1).
type Forecaster struct {
	Config ForecasterConfig `json:"config"`
	Layers []*LSTMLayer     `json:"layers"`
	Output *DenseLayer      `json:"output"`
	rng    *rand.Rand
}

// NewForecaster initializes weights: glorot-uniform input kernels, orthogonal
// recurrent kernels, zero biases with the forget gate bias set to one.
func NewForecaster(cfg ForecasterConfig) (*Forecaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Forecaster{
		Config: cfg,
		Layers: []*LSTMLayer{
			newLSTMLayer(cfg.InputSize, cfg.Hidden1, rng),
			newLSTMLayer(cfg.Hidden1, cfg.Hidden2, rng),
		},
		Output: &DenseLayer{
			W: glorotUniform(cfg.Hidden2, 1, cfg.Hidden2, rng),
			B: []float64{0},
		},
		rng: rng,
	}
	return f, nil
}

func newLSTMLayer(in, hidden int, rng *rand.Rand) *LSTMLayer {
	l := &LSTMLayer{
		In:     in,
		Hidden: hidden,
		Wx:     glorotUniform(in, 4*hidden, 4*hidden*in, rng),
		Wh:     orthogonal(4*hidden, hidden, rng),
		B:      make([]float64, 4*hidden),
	}
	for k := hidden; k < 2*hidden; k++ {
		l.B[k] = 1
	}
	return l
}

func glorotUniform(fanIn, fanOut, n int, rng *rand.Rand) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	w := make([]float64, n)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return w
}

// orthogonal returns a rows×cols row-major matrix with orthonormal columns
func orthogonal(rows, cols int, rng *rand.Rand) []float64 {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}

	var qr mat.QR
	qr.Factorize(mat.NewDense(rows, cols, data))
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	out := make([]float64, rows*cols)
	for j := 0; j < cols; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < rows; i++ {
			out[i*cols+j] = q.At(i, j) * sign
		}
	}
	return out
}

func (l *LSTMLayer) zeroLike() *LSTMLayer {
	return &LSTMLayer{
		In:     l.In,
		Hidden: l.Hidden,
		Wx:     make([]float64, len(l.Wx)),
		Wh:     make([]float64, len(l.Wh)),
		B:      make([]float64, len(l.B)),
	}
}

func (l *LSTMLayer) clone() *LSTMLayer {
	return &LSTMLayer{
		In:     l.In,
		Hidden: l.Hidden,
		Wx:     append([]float64(nil), l.Wx...),
		Wh:     append([]float64(nil), l.Wh...),
		B:      append([]float64(nil), l.B...),
	}
}

// step caches the activations of one timestep for backpropagation
type step struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	c, tc, h        []float64
}

func (l *LSTMLayer) forward(xs [][]float64) []step {
	H := l.Hidden
	h := make([]float64, H)
	c := make([]float64, H)
	steps := make([]step, len(xs))

	for t, x := range xs {
		z := make([]float64, 4*H)
		for r := 0; r < 4*H; r++ {
			s := l.B[r]
			wx := l.Wx[r*l.In : (r+1)*l.In]
			for k, v := range x {
				s += wx[k] * v
			}
			wh := l.Wh[r*H : (r+1)*H]
			for k, v := range h {
				s += wh[k] * v
			}
			z[r] = s
		}

		st := step{
			x: x, hPrev: h, cPrev: c,
			i: make([]float64, H), f: make([]float64, H),
			g: make([]float64, H), o: make([]float64, H),
			c: make([]float64, H), tc: make([]float64, H), h: make([]float64, H),
		}
		for k := 0; k < H; k++ {
			st.i[k] = sigmoid(z[k])
			st.f[k] = sigmoid(z[H+k])
			st.g[k] = math.Tanh(z[2*H+k])
			st.o[k] = sigmoid(z[3*H+k])
			st.c[k] = st.f[k]*c[k] + st.i[k]*st.g[k]
			st.tc[k] = math.Tanh(st.c[k])
			st.h[k] = st.o[k] * st.tc[k]
		}
		steps[t] = st
		h, c = st.h, st.c
	}
	return steps
}

// backward accumulates weight gradients into grad and returns the gradient with
// respect to each input. dh[t] is the loss gradient flowing into h_t from above;
// nil entries are zero.
func (l *LSTMLayer) backward(steps []step, dh [][]float64, grad *LSTMLayer) [][]float64 {
	H := l.Hidden
	dxs := make([][]float64, len(steps))
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	da := make([]float64, 4*H)

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for k := 0; k < H; k++ {
			dhk := dhNext[k]
			if dh[t] != nil {
				dhk += dh[t][k]
			}
			do := dhk * st.tc[k]
			dc := dcNext[k] + dhk*st.o[k]*(1-st.tc[k]*st.tc[k])

			da[k] = dc * st.g[k] * st.i[k] * (1 - st.i[k])
			da[H+k] = dc * st.cPrev[k] * st.f[k] * (1 - st.f[k])
			da[2*H+k] = dc * st.i[k] * (1 - st.g[k]*st.g[k])
			da[3*H+k] = do * st.o[k] * (1 - st.o[k])
			dcNext[k] = dc * st.f[k]
		}

		dx := make([]float64, l.In)
		for k := range dhNext {
			dhNext[k] = 0
		}
		for r := 0; r < 4*H; r++ {
			a := da[r]
			if a == 0 {
				continue
			}
			grad.B[r] += a
			wx := l.Wx[r*l.In : (r+1)*l.In]
			gx := grad.Wx[r*l.In : (r+1)*l.In]
			for k, v := range st.x {
				gx[k] += a * v
				dx[k] += a * wx[k]
			}
			wh := l.Wh[r*H : (r+1)*H]
			gh := grad.Wh[r*H : (r+1)*H]
			for k, v := range st.hPrev {
				gh[k] += a * v
				dhNext[k] += a * wh[k]
			}
		}
		dxs[t] = dx
	}
	return dxs
}

// pass holds the activations of one forward pass
type pass struct {
	steps1 []step
	mask1  [][]float64
	steps2 []step
	mask2  []float64
	last   []float64
	y      float64
}

func (fc *Forecaster) forward(window [][]float64, train bool) pass {
	var p pass
	p.steps1 = fc.Layers[0].forward(window)

	inputs := make([][]float64, len(window))
	if train && fc.Config.Dropout > 0 {
		p.mask1 = make([][]float64, len(window))
	}
	for t, st := range p.steps1 {
		if p.mask1 != nil {
			p.mask1[t] = fc.dropoutMask(len(st.h))
			inputs[t] = mulVec(st.h, p.mask1[t])
		} else {
			inputs[t] = st.h
		}
	}

	p.steps2 = fc.Layers[1].forward(inputs)
	hT := p.steps2[len(p.steps2)-1].h
	p.last = hT
	if train && fc.Config.Dropout > 0 {
		p.mask2 = fc.dropoutMask(len(hT))
		p.last = mulVec(hT, p.mask2)
	}

	p.y = fc.Output.B[0]
	for k, v := range p.last {
		p.y += fc.Output.W[k] * v
	}
	return p
}

// dropoutMask returns inverted-dropout multipliers: 0 with probability p, else 1/(1-p)
func (fc *Forecaster) dropoutMask(n int) []float64 {
	keep := 1 - fc.Config.Dropout
	mask := make([]float64, n)
	for i := range mask {
		if fc.rng.Float64() < keep {
			mask[i] = 1 / keep
		}
	}
	return mask
}

// gradients holds one gradient buffer per parameter tensor
type gradients struct {
	layers []*LSTMLayer
	output *DenseLayer
}

func (fc *Forecaster) newGradients() *gradients {
	g := &gradients{output: &DenseLayer{
		W: make([]float64, len(fc.Output.W)),
		B: make([]float64, 1),
	}}
	for _, l := range fc.Layers {
		g.layers = append(g.layers, l.zeroLike())
	}
	return g
}

// backprop adds the gradient of scale*(y - target)^2 for one forward pass
func (fc *Forecaster) backprop(p pass, target, scale float64, g *gradients) {
	dy := 2 * (p.y - target) * scale

	g.output.B[0] += dy
	dLast := make([]float64, len(p.last))
	for k, v := range p.last {
		g.output.W[k] += dy * v
		dLast[k] = dy * fc.Output.W[k]
	}
	if p.mask2 != nil {
		dLast = mulVec(dLast, p.mask2)
	}

	dh2 := make([][]float64, len(p.steps2))
	dh2[len(dh2)-1] = dLast
	dInputs := fc.Layers[1].backward(p.steps2, dh2, g.layers[1])

	if p.mask1 != nil {
		for t := range dInputs {
			dInputs[t] = mulVec(dInputs[t], p.mask1[t])
		}
	}
	fc.Layers[0].backward(p.steps1, dInputs, g.layers[0])
}

// params lists parameter tensors in a fixed order shared with gradients
func (fc *Forecaster) params() [][]float64 {
	var out [][]float64
	for _, l := range fc.Layers {
		out = append(out, l.Wx, l.Wh, l.B)
	}
	return append(out, fc.Output.W, fc.Output.B)
}

func (g *gradients) tensors() [][]float64 {
	var out [][]float64
	for _, l := range g.layers {
		out = append(out, l.Wx, l.Wh, l.B)
	}
	return append(out, g.output.W, g.output.B)
}

// adam implements the Adam optimizer with bias correction
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

func (a *adam) update(params, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for k := range p {
			m[k] = a.beta1*m[k] + (1-a.beta1)*g[k]
			v[k] = a.beta2*v[k] + (1-a.beta2)*g[k]*g[k]
			p[k] -= a.lr * (m[k] / c1) / (math.Sqrt(v[k]/c2) + a.eps)
		}
	}
}

// Train fits the network on shuffled mini-batches. Validation loss drives early
// stopping; without a validation set the training loss is monitored instead. The
// weights of the best epoch are restored before returning.
func (fc *Forecaster) Train(x [][][]float64, y []float64, valX [][][]float64, valY []float64) (*TrainingHistory, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("no training windows provided")
	}
	if len(x) != len(y) || len(valX) != len(valY) {
		return nil, fmt.Errorf("windows and targets differ in length")
	}
	if err := fc.checkShape(x); err != nil {
		return nil, err
	}
	if err := fc.checkShape(valX); err != nil {
		return nil, err
	}
	if fc.rng == nil {
		fc.rng = rand.New(rand.NewSource(fc.Config.Seed))
	}

	opt := newAdam(fc.Config.LearningRate, fc.params())
	history := &TrainingHistory{BestValLoss: math.Inf(1)}
	var best *Forecaster
	wait := 0

	for epoch := 1; epoch <= fc.Config.Epochs; epoch++ {
		order := fc.rng.Perm(len(x))
		trainLoss := 0.0

		for start := 0; start < len(order); start += fc.Config.BatchSize {
			end := start + fc.Config.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]
			scale := 1 / float64(len(batch))

			grads := fc.newGradients()
			for _, idx := range batch {
				p := fc.forward(x[idx], true)
				diff := p.y - y[idx]
				trainLoss += diff * diff
				fc.backprop(p, y[idx], scale, grads)
			}
			opt.update(fc.params(), grads.tensors())
		}
		trainLoss /= float64(len(x))

		monitored := trainLoss
		valLoss := math.NaN()
		if len(valX) > 0 {
			valLoss = fc.Loss(valX, valY)
			monitored = valLoss
		}
		history.Epochs = append(history.Epochs, EpochStats{Epoch: epoch, Loss: trainLoss, ValLoss: valLoss})

		if monitored < history.BestValLoss {
			history.BestValLoss = monitored
			history.BestEpoch = epoch
			best = fc.snapshot()
			wait = 0
			continue
		}
		wait++
		if wait >= fc.Config.Patience {
			history.StoppedEarly = true
			break
		}
	}

	if best != nil {
		fc.restore(best)
	}
	return history, nil
}

func (fc *Forecaster) checkShape(x [][][]float64) error {
	for i, w := range x {
		if len(w) == 0 {
			return fmt.Errorf("window %d is empty", i)
		}
		for _, row := range w {
			if len(row) != fc.Config.InputSize {
				return fmt.Errorf("window %d has %d features, model expects %d", i, len(row), fc.Config.InputSize)
			}
		}
	}
	return nil
}

func (fc *Forecaster) snapshot() *Forecaster {
	s := &Forecaster{
		Config: fc.Config,
		Output: &DenseLayer{
			W: append([]float64(nil), fc.Output.W...),
			B: append([]float64(nil), fc.Output.B...),
		},
	}
	for _, l := range fc.Layers {
		s.Layers = append(s.Layers, l.clone())
	}
	return s
}

func (fc *Forecaster) restore(s *Forecaster) {
	fc.Layers = s.Layers
	fc.Output = s.Output
}

// Predict returns one value per window, in the scale of the training targets
func (fc *Forecaster) Predict(windows [][][]float64) ([]float64, error) {
	if fc == nil || len(fc.Layers) != 2 || fc.Output == nil {
		return nil, ErrNotTrained
	}
	if err := fc.checkShape(windows); err != nil {
		return nil, err
	}

	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = fc.forward(w, false).y
	}
	return out, nil
}

// Loss returns the mean squared error over windows without dropout
func (fc *Forecaster) Loss(x [][][]float64, y []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i, w := range x {
		d := fc.forward(w, false).y - y[i]
		sum += d * d
	}
	return sum / float64(len(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func mulVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}
