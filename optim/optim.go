// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimizers that respect frozen parameters.
package optim

import (
	"github.com/born-ml/continual/internal/nn"
	"github.com/born-ml/continual/internal/optim"
	"github.com/born-ml/continual/internal/tensor"
)

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// Options is the union of hyperparameters accepted by New.
type Options = optim.Options

// SGD represents the SGD optimizer with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig contains configuration for SGD optimizer.
type SGDConfig = optim.SGDConfig

// NewSGD creates a new SGD optimizer.
//
// Example:
//
//	optimizer := optim.NewSGD(head.Parameters(), optim.SGDConfig{LR: 0.1, Momentum: 0.9}, backend)
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	return optim.NewSGD(params, config, backend)
}

// Adam represents the Adam optimizer.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig contains configuration for Adam optimizer.
type AdamConfig = optim.AdamConfig

// NewAdam creates a new Adam optimizer with bias correction.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	return optim.NewAdam(params, config, backend)
}

// New creates an optimizer by name ("sgd" or "adam").
func New[B tensor.Backend](name string, params []*nn.Parameter[B], opts Options, backend B) (Optimizer, error) {
	return optim.New(name, params, opts, backend)
}
