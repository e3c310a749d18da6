// Package domain contains the core business entities of the application.
// These types carry no dependencies on storage, transport, or the
// generation backend; validation lives next to the data it protects.
package domain
