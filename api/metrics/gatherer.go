// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics provides a MultiGatherer so a host process can register
// Propeller's metrics alongside its own collectors, following the
// teacher's api/metrics package. The core never exports or scrapes these
// itself (§1 Non-goals); it only produces them.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MultiGatherer gathers metrics from multiple named sources, such as one
// Propeller Engine registered alongside a host application's own metrics.
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds a new named gatherer. Name must be unique.
	Register(name string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	mu        sync.RWMutex
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer returns an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{gatherers: make(map[string]prometheus.Gatherer)}
}

func (mg *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if _, exists := mg.gatherers[name]; exists {
		return fmt.Errorf("metrics: gatherer %q already registered", name)
	}
	mg.gatherers[name] = gatherer
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	var result []*dto.MetricFamily
	for _, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, err
		}
		result = append(result, families...)
	}
	return result, nil
}
