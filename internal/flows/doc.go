// Package flows holds the engine's request pipelines as pure functions
// over injected dependency structs. Each flow classifies failures into a
// package-local kind; the root package maps kinds onto its public error
// taxonomy. Keeping the pipelines here keeps the root package to wiring,
// auditing, and metrics.
package flows
