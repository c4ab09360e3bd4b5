package rl

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Layer is a dense layer. W is row-major, Out rows of In columns.
type Layer struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

// MLP is a fully connected network with ReLU hidden activations and a linear output.
type MLP struct {
	Layers []Layer `json:"layers"`
}

// NewMLP creates a network with He-initialized weights and zero biases.
func NewMLP(sizes []int, rng *rand.Rand) *MLP {
	m := &MLP{Layers: make([]Layer, 0, len(sizes)-1)}
	for i := 0; i+1 < len(sizes); i++ {
		in, out := sizes[i], sizes[i+1]
		std := math.Sqrt(2 / float64(in))
		l := Layer{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
		for j := range l.W {
			l.W[j] = rng.NormFloat64() * std
		}
		m.Layers = append(m.Layers, l)
	}
	return m
}

func (m *MLP) InputSize() int {
	if len(m.Layers) == 0 {
		return 0
	}
	return m.Layers[0].In
}

func (m *MLP) OutputSize() int {
	if len(m.Layers) == 0 {
		return 0
	}
	return m.Layers[len(m.Layers)-1].Out
}

// Forward returns the network output for x.
func (m *MLP) Forward(x []float64) []float64 {
	acts := m.forward(x)
	return acts[len(acts)-1]
}

// forward returns every layer's activation; acts[0] is the input.
func (m *MLP) forward(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(m.Layers)+1)
	acts = append(acts, x)
	cur := x
	for li, l := range m.Layers {
		next := make([]float64, l.Out)
		for o := 0; o < l.Out; o++ {
			sum := l.B[o]
			row := l.W[o*l.In : (o+1)*l.In]
			for i, w := range row {
				sum += w * cur[i]
			}
			if li < len(m.Layers)-1 && sum < 0 {
				sum = 0
			}
			next[o] = sum
		}
		acts = append(acts, next)
		cur = next
	}
	return acts
}

// backward accumulates dLoss/dParams into g given cached activations and dLoss/dOutput.
func (m *MLP) backward(acts [][]float64, gradOut []float64, g *Gradients) {
	delta := gradOut
	for li := len(m.Layers) - 1; li >= 0; li-- {
		l := m.Layers[li]
		input := acts[li]
		gw, gb := g.W[li], g.B[li]
		for o := 0; o < l.Out; o++ {
			d := delta[o]
			if d == 0 {
				continue
			}
			gb[o] += d
			row := gw[o*l.In : (o+1)*l.In]
			for i := range row {
				row[i] += d * input[i]
			}
		}
		if li == 0 {
			break
		}
		prev := make([]float64, l.In)
		for i := 0; i < l.In; i++ {
			if input[i] <= 0 { // ReLU gate of the previous layer
				continue
			}
			var sum float64
			for o := 0; o < l.Out; o++ {
				sum += l.W[o*l.In+i] * delta[o]
			}
			prev[i] = sum
		}
		delta = prev
	}
}

// Clone returns a deep copy.
func (m *MLP) Clone() *MLP {
	out := &MLP{Layers: make([]Layer, len(m.Layers))}
	for i, l := range m.Layers {
		out.Layers[i] = Layer{
			In:  l.In,
			Out: l.Out,
			W:   append([]float64(nil), l.W...),
			B:   append([]float64(nil), l.B...),
		}
	}
	return out
}

// CopyFrom overwrites m's parameters with src's. Shapes must match.
func (m *MLP) CopyFrom(src *MLP) {
	for i := range m.Layers {
		copy(m.Layers[i].W, src.Layers[i].W)
		copy(m.Layers[i].B, src.Layers[i].B)
	}
}

// SameShape reports whether two networks have identical layer shapes.
func (m *MLP) SameShape(o *MLP) bool {
	if o == nil || len(m.Layers) != len(o.Layers) {
		return false
	}
	for i := range m.Layers {
		if m.Layers[i].In != o.Layers[i].In || m.Layers[i].Out != o.Layers[i].Out {
			return false
		}
	}
	return true
}

// validate checks a deserialized network.
func (m *MLP) validate() error {
	if len(m.Layers) == 0 {
		return errors.New("network has no layers")
	}
	for i, l := range m.Layers {
		if l.In <= 0 || l.Out <= 0 || len(l.W) != l.In*l.Out || len(l.B) != l.Out {
			return fmt.Errorf("layer %d has inconsistent shape", i)
		}
		if i > 0 && m.Layers[i-1].Out != l.In {
			return fmt.Errorf("layer %d input %d does not match previous output %d", i, l.In, m.Layers[i-1].Out)
		}
		for _, w := range l.W {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("layer %d has non-finite weights", i)
			}
		}
	}
	return nil
}

// Gradients mirrors an MLP's parameter shapes.
type Gradients struct {
	W [][]float64
	B [][]float64
}

func (m *MLP) newGradients() *Gradients {
	g := &Gradients{W: make([][]float64, len(m.Layers)), B: make([][]float64, len(m.Layers))}
	for i, l := range m.Layers {
		g.W[i] = make([]float64, len(l.W))
		g.B[i] = make([]float64, len(l.B))
	}
	return g
}

// Adam is the Adam optimizer bound to one network's shape.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	t     int
	m, v  *Gradients
}

func NewAdam(net *MLP, lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, m: net.newGradients(), v: net.newGradients()}
}

// Step applies g to net. When clip > 0 every gradient element is first clipped to [-clip, clip].
func (a *Adam) Step(net *MLP, g *Gradients, clip float64) {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))

	update := func(params, grads, m, v []float64) {
		for i := range params {
			gi := grads[i]
			if clip > 0 {
				gi = math.Max(-clip, math.Min(clip, gi))
			}
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			params[i] -= a.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Eps)
		}
	}
	for li := range net.Layers {
		update(net.Layers[li].W, g.W[li], a.m.W[li], a.v.W[li])
		update(net.Layers[li].B, g.B[li], a.m.B[li], a.v.B[li])
	}
}

// softmax is numerically stable.
func softmax(logits []float64) []float64 {
	maxL := logits[0]
	for _, l := range logits[1:] {
		maxL = math.Max(maxL, l)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - maxL)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
