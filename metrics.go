// Copyright 2020 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestServedFromCacheCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requests_served_from_cache",
			Help: "Number of requests served from cache.",
		})
	imageTransformationSummary = prometheus.NewSummary(prometheus.SummaryOpts{
		Name: "image_transformation_seconds",
		Help: "Time taken for image transformations in seconds.",
	})
	transformFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_transformation_failures",
		Help: "Total image transformation failures",
	})
	sourceRescans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "source_index_rescans",
		Help: "Number of times the source directory was rescanned.",
	})
	httpResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "http",
		Name:      "responses_total",
		Help:      "Responses by status code",
	}, []string{"code"})
	httpRequestsResponseTime = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "http",
		Name:      "response_time_seconds",
		Help:      "Request response times",
	})
)

func init() {
	prometheus.MustRegister(imageTransformationSummary)
	prometheus.MustRegister(requestServedFromCacheCount)
	prometheus.MustRegister(transformFailures)
	prometheus.MustRegister(sourceRescans)
	prometheus.MustRegister(httpResponses)
	prometheus.MustRegister(httpRequestsResponseTime)
}
