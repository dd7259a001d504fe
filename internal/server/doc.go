// Package server implements the gatehouse HTTP service: the bootstrap
// state machine, the Postgres connector, the store-backed rate limiter,
// and the staged request pipeline with its single error funnel. It wires
// the routes and lifecycle helpers used by tests and the production
// binary.
package server
