// Package metrics defines Prometheus metrics for token acquisition, sign-out
// and the local token broker.
package metrics
