// Package rca generates root cause analysis reports for alerts and incidents.
//
// Two strategies exist: a generative backend against Anthropic's Messages API
// and a deterministic keyword-rule fallback. The strategy is fixed at
// construction; generation itself never fails.
package rca
