// Package agent runs a single pipeline stage on behalf of a persona: it
// gathers tool observations through the tool registry, asks the configured
// model to produce the stage deliverable and maps failures onto coded errors.
package agent
