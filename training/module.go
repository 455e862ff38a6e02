package training

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/hoopvision/overfit/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	// Backward takes the gradient of the loss with respect to the last
	// Forward output, accumulates parameter gradients and returns the
	// gradient with respect to the input.
	Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	NamedParameters() []NamedParameter
	Train()           // Sets module to training mode
	Eval()            // Sets module to evaluation mode
	IsTraining() bool // Returns true if in training mode
}

// NamedParameter pairs a parameter tensor with its dotted name, e.g. "fc.weight".
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// ModelState maps parameter names to tensors.
type ModelState map[string]*tensor.Tensor

// Clone deep copies every tensor in the state.
func (s ModelState) Clone() ModelState {
	out := make(ModelState, len(s))
	for name, t := range s {
		out[name] = t.Clone()
	}
	return out
}

// Names returns the parameter names in sorted order.
func (s ModelState) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StateDict returns a deep copy of the model's parameters.
func StateDict(m Module) ModelState {
	state := make(ModelState)
	for _, p := range m.NamedParameters() {
		state[p.Name] = p.Tensor.Clone()
	}
	return state
}

// LoadStateDict copies state into the model's parameters in place. Every
// parameter of the model must be present with the same shape.
func LoadStateDict(m Module, state ModelState) error {
	for _, p := range m.NamedParameters() {
		src, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("state has no parameter named %s", p.Name)
		}
		if err := p.Tensor.CopyFrom(src); err != nil {
			return fmt.Errorf("failed to load parameter %s: %w", p.Name, err)
		}
	}
	return nil
}

// FreezeAllExcept disables gradients for every parameter whose name does not
// start with one of prefixes and returns the names left trainable.
func FreezeAllExcept(m Module, prefixes ...string) []string {
	var trainable []string
	for _, p := range m.NamedParameters() {
		keep := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(p.Name, prefix) {
				keep = true
				break
			}
		}
		p.Tensor.SetRequiresGrad(keep)
		if keep {
			trainable = append(trainable, p.Name)
		}
	}
	return trainable
}

// TrainableParameters returns the parameters that require gradients.
func TrainableParameters(m Module) []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, p := range m.Parameters() {
		if p.RequiresGrad() {
			params = append(params, p)
		}
	}
	return params
}

// ModelDevice returns the device of the model's first parameter, or CPU for a
// model without parameters.
func ModelDevice(m Module) tensor.DeviceType {
	params := m.Parameters()
	if len(params) == 0 {
		return tensor.CPU
	}
	return params[0].Device
}

func prefixed(prefix string, params []NamedParameter) []NamedParameter {
	out := make([]NamedParameter, len(params))
	for i, p := range params {
		out[i] = NamedParameter{Name: prefix + "." + p.Name, Tensor: p.Tensor}
	}
	return out
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor // [input_size, output_size]
	bias     *tensor.Tensor // [output_size], nil without bias
	training bool

	lastInput *tensor.Tensor
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	// Initialize weights using Xavier/Glorot uniform initialization
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass on a [batch, input_size] input.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.Device != l.weight.Device {
		return nil, &DeviceError{Op: "linear forward", Expected: l.weight.Device, Got: input.Device}
	}
	if len(input.Shape) != 2 || input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("linear layer expects input [batch, %d], got %v", l.weight.Shape[0], input.Shape)
	}

	x := denseOf(input)
	w := denseOf(l.weight)

	var out mat.Dense
	out.Mul(x, w)

	batch, outSize := input.Shape[0], l.weight.Shape[1]
	if l.bias != nil {
		b := l.bias.Data()
		for i := 0; i < batch; i++ {
			row := out.RawRowView(i)
			for j := range row {
				row[j] += float64(b[j])
			}
		}
	}

	l.lastInput = input
	return tensorOf(&out, []int{batch, outSize}, input.Device)
}

// Backward accumulates dL/dW = x^T g and dL/db = sum(g) and returns g W^T.
func (l *Linear) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if l.lastInput == nil {
		return nil, fmt.Errorf("linear backward called before forward")
	}
	g := denseOf(gradOutput)

	if l.weight.RequiresGrad() {
		var gw mat.Dense
		gw.Mul(denseOf(l.lastInput).T(), g)
		if err := l.weight.AccumulateGrad(toFloat32(gw.RawMatrix().Data)); err != nil {
			return nil, err
		}
	}

	if l.bias != nil && l.bias.RequiresGrad() {
		rows, cols := g.Dims()
		gb := make([]float32, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				gb[j] += float32(g.At(i, j))
			}
		}
		if err := l.bias.AccumulateGrad(gb); err != nil {
			return nil, err
		}
	}

	var gx mat.Dense
	gx.Mul(g, denseOf(l.weight).T())
	return tensorOf(&gx, l.lastInput.Shape, gradOutput.Device)
}

// Parameters returns the layer's parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.bias != nil {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}

func (l *Linear) NamedParameters() []NamedParameter {
	params := []NamedParameter{{Name: "weight", Tensor: l.weight}}
	if l.bias != nil {
		params = append(params, NamedParameter{Name: "bias", Tensor: l.bias})
	}
	return params
}

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// ReLU implements ReLU activation function module
type ReLU struct {
	training bool
	mask     []bool
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward performs ReLU activation
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	src := input.Data()
	out := make([]float32, len(src))
	r.mask = make([]bool, len(src))
	for i, v := range src {
		if v > 0 {
			out[i] = v
			r.mask[i] = true
		}
	}
	return tensor.NewTensor(input.Shape, input.Device, out)
}

func (r *ReLU) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	g := gradOutput.Data()
	if len(g) != len(r.mask) {
		return nil, fmt.Errorf("relu backward: gradient size %d does not match forward size %d", len(g), len(r.mask))
	}
	out := make([]float32, len(g))
	for i, v := range g {
		if r.mask[i] {
			out[i] = v
		}
	}
	return tensor.NewTensor(gradOutput.Shape, gradOutput.Device, out)
}

// Parameters returns empty slice (ReLU has no parameters)
func (r *ReLU) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (r *ReLU) NamedParameters() []NamedParameter {
	return nil
}

// Train sets the module to training mode
func (r *ReLU) Train() {
	r.training = true
}

// Eval sets the module to evaluation mode
func (r *ReLU) Eval() {
	r.training = false
}

// IsTraining returns true if in training mode
func (r *ReLU) IsTraining() bool {
	return r.training
}

// Dropout zeroes each element with probability p in training mode and scales
// the rest by 1/(1-p). It is the identity in evaluation mode.
type Dropout struct {
	p        float64
	training bool
	scale    []float32
}

func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %f", p)
	}
	return &Dropout{p: p, training: true}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	src := input.Data()
	out := make([]float32, len(src))
	d.scale = make([]float32, len(src))

	keep := float32(1.0 / (1.0 - d.p))
	for i, v := range src {
		if !d.training || d.p == 0 {
			d.scale[i] = 1
		} else if globalRng.Float64() >= d.p {
			d.scale[i] = keep
		}
		out[i] = v * d.scale[i]
	}
	return tensor.NewTensor(input.Shape, input.Device, out)
}

func (d *Dropout) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	g := gradOutput.Data()
	if len(g) != len(d.scale) {
		return nil, fmt.Errorf("dropout backward: gradient size %d does not match forward size %d", len(g), len(d.scale))
	}
	out := make([]float32, len(g))
	for i, v := range g {
		out[i] = v * d.scale[i]
	}
	return tensor.NewTensor(gradOutput.Shape, gradOutput.Device, out)
}

func (d *Dropout) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

func (d *Dropout) NamedParameters() []NamedParameter { return nil }

func (d *Dropout) Train() { d.training = true }

func (d *Dropout) Eval() { d.training = false }

func (d *Dropout) IsTraining() bool { return d.training }

// Flatten reshapes [batch, d1, d2, ...] into [batch, d1*d2*...].
type Flatten struct {
	training   bool
	inputShape []int
}

func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, fmt.Errorf("flatten expects a batched input, got shape %v", input.Shape)
	}
	f.inputShape = append([]int(nil), input.Shape...)
	return input.Reshape([]int{input.Shape[0], input.NumElems / input.Shape[0]})
}

func (f *Flatten) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inputShape == nil {
		return nil, fmt.Errorf("flatten backward called before forward")
	}
	return gradOutput.Reshape(f.inputShape)
}

func (f *Flatten) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

func (f *Flatten) NamedParameters() []NamedParameter { return nil }

func (f *Flatten) Train() { f.training = true }

func (f *Flatten) Eval() { f.training = false }

func (f *Flatten) IsTraining() bool { return f.training }

// Sequential allows chaining multiple modules together. Parameters of the
// i-th module are named "<i>.<name>".
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	for i, module := range s.modules {
		var err error
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("error in module %d: %w", i, err)
		}
	}
	return output, nil
}

// Backward runs the modules' backward passes in reverse order.
func (s *Sequential) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	grad := gradOutput
	for i := len(s.modules) - 1; i >= 0; i-- {
		var err error
		grad, err = s.modules[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("error in module %d backward: %w", i, err)
		}
	}
	return grad, nil
}

// Parameters returns all parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

func (s *Sequential) NamedParameters() []NamedParameter {
	var params []NamedParameter
	for i, module := range s.modules {
		params = append(params, prefixed(fmt.Sprintf("%d", i), module.NamedParameters())...)
	}
	return params
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}

// Add appends a module to the sequential container
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

func denseOf(t *tensor.Tensor) *mat.Dense {
	rows, cols := t.Shape[0], t.NumElems/t.Shape[0]
	src := t.Data()
	data := make([]float64, len(src))
	for i, v := range src {
		data[i] = float64(v)
	}
	return mat.NewDense(rows, cols, data)
}

func tensorOf(m *mat.Dense, shape []int, device tensor.DeviceType) (*tensor.Tensor, error) {
	return tensor.NewTensor(shape, device, toFloat32(m.RawMatrix().Data))
}

func toFloat32(src []float64) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = float32(v)
	}
	return out
}
