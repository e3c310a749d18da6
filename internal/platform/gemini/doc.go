// Package gemini implements the generation.Generator interface using
// Google's Gemini API, streaming stage output as it is produced.
package gemini
