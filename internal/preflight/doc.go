// Package preflight runs the environment checks behind `amanrag doctor`:
// data directory access, system limits, and whether the embedding and
// generation models are reachable.
package preflight
