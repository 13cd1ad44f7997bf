// Package pipeline defines the five analysis stages (research, market, strategy,
// communication, reflection), runs them in order through the agent personas and
// turns the outputs into a written, optionally emailed, report.
package pipeline
