// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"fmt"
	"math"
	"time"
)

// BackoffPolicy computes reconnection delays. It is pure configuration:
// it holds no clock and no per-server state, so the same policy value can
// be shared across servers and tested without time dependencies.
type BackoffPolicy struct {
	// Base is the delay after the first failure. Default: 1s
	Base time.Duration `yaml:"base" json:"base"`

	// Multiplier grows the delay per consecutive failure. Default: 2.0
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Max caps the delay. Default: 5m
	Max time.Duration `yaml:"max" json:"max"`
}

// DefaultBackoffPolicy returns the standard reconnection policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       time.Second,
		Multiplier: 2.0,
		Max:        5 * time.Minute,
	}
}

// Validate checks the policy for errors.
func (p BackoffPolicy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", p.Base)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.Max < p.Base {
		return fmt.Errorf("backoff max %s must be >= base %s", p.Max, p.Base)
	}
	return nil
}

// Delay returns the wait before retry attempt number attempts+1, given
// attempts consecutive failures so far:
//
//	delay(n) = min(base * multiplier^(n-1), max)
//
// Delay(1) == Base; the sequence is non-decreasing and capped at Max.
// Attempts below 1 are treated as 1.
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempts-1))
	// Guard against float overflow for large attempt counts.
	if d >= float64(p.Max) || math.IsInf(d, 1) || math.IsNaN(d) {
		return p.Max
	}
	return time.Duration(d)
}
