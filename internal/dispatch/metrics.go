// Copyright (C) ARPA-SIMC.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arkimet",
	Subsystem: "dispatch",
	Name:      "records_total",
	Help:      "Records routed by the dispatcher, by target dataset and outcome.",
}, []string{"dataset", "outcome"})
