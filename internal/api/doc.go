// Package api provides the HTTP surface of the generation engine: the
// SSE streaming endpoints, task control endpoints, and the translation
// of internal events and errors to their wire-level representations.
package api
