package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	g = gradient + weight_decay * param
//	m_t = beta1 * m_{t-1} + (1-beta1) * g
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	t           int                                    // timestep for bias correction
	m           map[*nn.Parameter[B]]*tensor.RawTensor // first moment estimates
	v           map[*nn.Parameter[B]]*tensor.RawTensor // second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR          float32    // Learning rate (default: 0.001)
	Betas       [2]float32 // Coefficients for the running averages (default: [0.9, 0.999])
	Eps         float32    // Term for numerical stability (default: 1e-8)
	WeightDecay float32    // L2 penalty (default: 0.0)
}

// NewAdam creates a new Adam optimizer, filling unset hyperparameters with
// their defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, _ B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make(map[*nn.Parameter[B]]*tensor.RawTensor),
		v:           make(map[*nn.Parameter[B]]*tensor.RawTensor),
	}
}

// Step performs a single optimization step. Frozen parameters and
// parameters without a gradient are skipped.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++
	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := gradientFor(param, grads)
		if grad == nil {
			continue
		}

		m, ok := a.m[param]
		if !ok {
			m = newBuffer(param)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = newBuffer(param)
			a.v[param] = v
		}

		mData, vData := m.AsFloat32(), v.AsFloat32()
		paramData := param.Tensor().Raw().AsFloat32()
		for i, g := range grad {
			g += a.weightDecay * paramData[i]
			mData[i] = a.beta1*mData[i] + (1-a.beta1)*g
			vData[i] = a.beta2*vData[i] + (1-a.beta2)*g*g

			mHat := mData[i] / biasCorrection1
			vHat := vData[i] / biasCorrection2
			paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// Name returns "adam".
func (a *Adam[B]) Name() string {
	return "adam"
}

// Config returns lr, beta1, beta2, eps and weight_decay.
func (a *Adam[B]) Config() map[string]float64 {
	return map[string]float64{
		"lr":           float64(a.lr),
		"beta1":        float64(a.beta1),
		"beta2":        float64(a.beta2),
		"eps":          float64(a.eps),
		"weight_decay": float64(a.weightDecay),
	}
}

// StateDict exports "m.{i}", "v.{i}" and the timestep under "step".
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	step := tensor.MustRaw(tensor.Shape{1}, tensor.Int32, tensor.CPU)
	step.AsInt32()[0] = int32(a.t) //nolint:gosec // G115: step counts stay far below 2^31
	stateDict["step"] = step

	for i, param := range a.params {
		if m, ok := a.m[param]; ok {
			stateDict[fmt.Sprintf("m.%d", i)] = m
		}
		if v, ok := a.v[param]; ok {
			stateDict[fmt.Sprintf("v.%d", i)] = v
		}
	}
	return stateDict
}

// LoadStateDict restores moments and timestep saved by StateDict.
func (a *Adam[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	ms := make(map[*nn.Parameter[B]]*tensor.RawTensor)
	vs := make(map[*nn.Parameter[B]]*tensor.RawTensor)

	for i, param := range a.params {
		for _, slot := range []struct {
			prefix string
			dst    map[*nn.Parameter[B]]*tensor.RawTensor
		}{{"m", ms}, {"v", vs}} {
			key := fmt.Sprintf("%s.%d", slot.prefix, i)
			raw, ok := stateDict[key]
			if !ok {
				continue
			}
			buf, err := loadBuffer(param, key, raw)
			if err != nil {
				return err
			}
			slot.dst[param] = buf
		}
	}

	t := 0
	if step, ok := stateDict["step"]; ok {
		if step.DType() != tensor.Int32 || step.NumElements() != 1 {
			return fmt.Errorf("%w for step: got %v %s", ErrStateShape, step.Shape(), step.DType())
		}
		t = int(step.AsInt32()[0])
	}

	a.m, a.v, a.t = ms, vs, t
	return nil
}
