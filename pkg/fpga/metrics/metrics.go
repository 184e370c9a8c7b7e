// Copyright 2026 Intel Corporation. All Rights Reserved.
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

// Package metrics exposes manager state and load counters in the
// Prometheus text format.
package metrics

import (
	"io"
	"net/http"
	"sort"

	"github.com/pkg/errors"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
	"k8s.io/klog/v2"

	"github.com/intel/intel-fpga-manager/pkg/fpga/mgr"
)

const namespace = "fpga_manager"

func labels(m *mgr.Manager, extra ...string) []*io_prometheus_client.LabelPair {
	pairs := []*io_prometheus_client.LabelPair{
		{Name: proto.String("device"), Value: proto.String(m.DevName())},
		{Name: proto.String("name"), Value: proto.String(m.Name())},
	}

	for i := 0; i+1 < len(extra); i += 2 {
		pairs = append(pairs, &io_prometheus_client.LabelPair{
			Name:  proto.String(extra[i]),
			Value: proto.String(extra[i+1]),
		})
	}

	return pairs
}

func gauge(lbl []*io_prometheus_client.LabelPair, v float64) *io_prometheus_client.Metric {
	return &io_prometheus_client.Metric{
		Label: lbl,
		Gauge: &io_prometheus_client.Gauge{Value: proto.Float64(v)},
	}
}

func counter(lbl []*io_prometheus_client.LabelPair, v uint64) *io_prometheus_client.Metric {
	return &io_prometheus_client.Metric{
		Label:   lbl,
		Counter: &io_prometheus_client.Counter{Value: proto.Float64(float64(v))},
	}
}

func family(name, help string, typ io_prometheus_client.MetricType) *io_prometheus_client.MetricFamily {
	return &io_prometheus_client.MetricFamily{
		Name: proto.String(namespace + "_" + name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

// Gather builds the metric families for managers.
func Gather(managers []*mgr.Manager) []*io_prometheus_client.MetricFamily {
	state := family("state", "Current manager state, 1 for the active state.", io_prometheus_client.MetricType_GAUGE)
	status := family("status_error", "Hardware status error bits currently set.", io_prometheus_client.MetricType_GAUGE)
	loads := family("loads_total", "Programming attempts.", io_prometheus_client.MetricType_COUNTER)
	failures := family("load_failures_total", "Failed programming attempts.", io_prometheus_client.MetricType_COUNTER)

	for _, m := range managers {
		current := m.State()
		for _, s := range mgr.States() {
			v := 0.0
			if s == current {
				v = 1
			}

			state.Metric = append(state.Metric, gauge(labels(m, "state", s.String()), v))
		}

		if m.HasStatus() {
			bits, err := m.Status()
			if err != nil {
				klog.V(3).Infof("%s: status: %v", m.DevName(), err)
			}

			for _, line := range bits.Decode() {
				status.Metric = append(status.Metric, gauge(labels(m, "error", line), 1))
			}
		}

		total, failed := m.Loads()
		loads.Metric = append(loads.Metric, counter(labels(m), total))
		failures.Metric = append(failures.Metric, counter(labels(m), failed))
	}

	families := []*io_prometheus_client.MetricFamily{state, loads, failures}
	if len(status.Metric) > 0 {
		families = append(families, status)
	}

	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	return families
}

// Write renders the metrics of managers to w.
func Write(w io.Writer, managers []*mgr.Manager) error {
	for _, mf := range Gather(managers) {
		if len(mf.Metric) == 0 {
			continue
		}

		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrapf(err, "writing %s", mf.GetName())
		}
	}

	return nil
}

// Handler serves the metrics of the managers returned by list.
func Handler(list func() []*mgr.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

		if err := Write(w, list()); err != nil {
			klog.Errorf("metrics: %+v", err)
		}
	})
}
