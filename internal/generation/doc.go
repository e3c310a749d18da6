// Package generation defines the interface between the task engine and
// external text-generation services, following the hexagonal architecture
// pattern. Concrete backends live under internal/platform.
package generation
