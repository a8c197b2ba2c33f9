// MIT License
//
// Copyright (c) 2020 Ohio Supercomputer Center
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package collectors

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/OSC/appserver_exporter/appserver"
	"github.com/OSC/appserver_exporter/provider"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "appserver"
)

var (
	collectDuration = prometheus.NewDesc(prometheus.BuildFQName(namespace, "exporter", "collector_duration_seconds"), "Collector time duration", []string{"collector"}, nil)
	collectError    = prometheus.NewDesc(prometheus.BuildFQName(namespace, "exporter", "collect_error"), "Indicates the collector had an error", []string{"collector"}, nil)
)

type Collector struct {
	sync.Mutex
	provider        *provider.Provider
	logger          log.Logger
	Info            *prometheus.Desc
	Running         *prometheus.Desc
	DeepMonitored   *prometheus.Desc
	Instances       *prometheus.Desc
	collectFailures prometheus.Counter
}

func NewCollector(p *provider.Provider, logger log.Logger) *Collector {
	return &Collector{
		provider: p,
		logger:   logger,
		Info: prometheus.NewDesc(prometheus.BuildFQName(namespace, "instance", "info"), "Application server instance information",
			[]string{"name", "type", "version", "major_version", "disk_path", "http_port", "https_port", "server"}, nil),
		Running:       prometheus.NewDesc(prometheus.BuildFQName(namespace, "instance", "running"), "Indicates the instance is running", []string{"name", "type"}, nil),
		DeepMonitored: prometheus.NewDesc(prometheus.BuildFQName(namespace, "instance", "deep_monitored"), "Indicates the instance is deep monitored", []string{"name", "type", "protocol", "port"}, nil),
		Instances:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "instances"), "Number of application server instances", []string{"type"}, nil),
		collectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exporter",
			Name:      "collect_failures_total",
			Help:      "Number of errors while collecting metrics.",
		}),
	}
}

func boolToFloat64(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *Collector) collectInstances(ctx context.Context, serverType string, candidates []appserver.Candidate, ch chan<- prometheus.Metric) error {
	level.Debug(c.logger).Log("msg", "Collecting instances", "type", serverType, "candidates", len(candidates))
	collectTime := time.Now()
	instances, err := c.provider.Instances(ctx, serverType, candidates)
	if err != nil {
		return err
	}
	for _, i := range instances {
		ch <- prometheus.MustNewConstMetric(c.Info, prometheus.GaugeValue, 1, i.ID, i.Type, i.Version, i.MajorVersion,
			i.DiskPath, i.HTTPPort, i.HTTPSPort, i.Server)
		ch <- prometheus.MustNewConstMetric(c.Running, prometheus.GaugeValue, boolToFloat64(i.IsRunning), i.ID, i.Type)
		ch <- prometheus.MustNewConstMetric(c.DeepMonitored, prometheus.GaugeValue, boolToFloat64(i.IsDeepMonitored), i.ID, i.Type, i.Protocol, i.Port)
	}
	ch <- prometheus.MustNewConstMetric(c.Instances, prometheus.GaugeValue, float64(len(instances)), serverType)
	ch <- prometheus.MustNewConstMetric(collectDuration, prometheus.GaugeValue, time.Since(collectTime).Seconds(), strings.ToLower(serverType))
	return nil
}

func (c *Collector) collect(ch chan<- prometheus.Metric) error {
	level.Debug(c.logger).Log("msg", "Collecting metrics")
	ctx := context.Background()

	collectTime := time.Now()
	candidates, err := c.provider.Scan(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(collectError, prometheus.GaugeValue, 1, "process")
	} else {
		ch <- prometheus.MustNewConstMetric(collectError, prometheus.GaugeValue, 0, "process")
	}
	ch <- prometheus.MustNewConstMetric(collectDuration, prometheus.GaugeValue, time.Since(collectTime).Seconds(), "process")

	wg := &sync.WaitGroup{}
	for _, serverType := range c.provider.Types() {
		wg.Add(1)
		go func(serverType string) {
			defer wg.Done()
			label := strings.ToLower(serverType)
			if err := c.collectInstances(ctx, serverType, candidates[serverType], ch); err != nil {
				level.Error(c.logger).Log("msg", "Error collecting instances", "type", serverType, "err", err)
				ch <- prometheus.MustNewConstMetric(collectError, prometheus.GaugeValue, 1, label)
				return
			}
			ch <- prometheus.MustNewConstMetric(collectError, prometheus.GaugeValue, 0, label)
		}(serverType)
	}
	wg.Wait()
	return err
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.Info
	ch <- c.Running
	ch <- c.DeepMonitored
	ch <- c.Instances
	ch <- collectDuration
	ch <- collectError
	c.collectFailures.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Lock() // To protect metrics from concurrent collects.
	defer c.Unlock()
	if err := c.collect(ch); err != nil {
		level.Error(c.logger).Log("msg", "Error scanning for application servers", "err", err)
		c.collectFailures.Inc()
	}
	c.collectFailures.Collect(ch)
}
