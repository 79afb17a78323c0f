package optim

import (
	"fmt"

	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum and L2
// weight decay.
//
// Update rule:
//
//	g = gradient + weight_decay * param
//	velocity = momentum * velocity + g
//	param = param - lr * velocity
//
// Without momentum the velocity is g itself.
//
// Example:
//
//	optimizer := optim.NewSGD(head.Parameters(), optim.SGDConfig{
//	    LR:          0.1,
//	    Momentum:    0.9,
//	    WeightDecay: 5e-4,
//	}, backend)
type SGD[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  map[*nn.Parameter[B]]*tensor.RawTensor
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float32 // L2 penalty (default: 0.0)
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, _ B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD[B]{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[*nn.Parameter[B]]*tensor.RawTensor),
	}
}

// Step performs a single optimization step. Frozen parameters and
// parameters without a gradient are skipped.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := gradientFor(param, grads)
		if grad == nil {
			continue
		}
		paramData := param.Tensor().Raw().AsFloat32()

		if s.momentum == 0 {
			for i, g := range grad {
				g += s.weightDecay * paramData[i]
				paramData[i] -= s.lr * g
			}
			continue
		}

		velocity, ok := s.velocities[param]
		if !ok {
			velocity = newBuffer(param)
			s.velocities[param] = velocity
		}
		v := velocity.AsFloat32()
		for i, g := range grad {
			g += s.weightDecay * paramData[i]
			v[i] = s.momentum*v[i] + g
			paramData[i] -= s.lr * v[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// Name returns "sgd".
func (s *SGD[B]) Name() string {
	return "sgd"
}

// Config returns lr, momentum and weight_decay.
func (s *SGD[B]) Config() map[string]float64 {
	return map[string]float64{
		"lr":           float64(s.lr),
		"momentum":     float64(s.momentum),
		"weight_decay": float64(s.weightDecay),
	}
}

// StateDict exports the velocity buffers as "velocity.{param_index}".
// Parameters that never stepped have no entry.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, param := range s.params {
		if velocity, ok := s.velocities[param]; ok {
			stateDict[fmt.Sprintf("velocity.%d", i)] = velocity
		}
	}
	return stateDict
}

// LoadStateDict restores velocity buffers. Missing entries start from zero
// on the next step.
func (s *SGD[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	velocities := make(map[*nn.Parameter[B]]*tensor.RawTensor)
	for i, param := range s.params {
		key := fmt.Sprintf("velocity.%d", i)
		raw, ok := stateDict[key]
		if !ok {
			continue
		}
		velocity, err := loadBuffer(param, key, raw)
		if err != nil {
			return err
		}
		velocities[param] = velocity
	}
	s.velocities = velocities
	return nil
}
