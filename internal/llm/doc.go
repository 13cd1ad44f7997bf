// Package llm defines the model client contract used by the analysis
// pipeline together with the shared prompt layout. Provider adapters live in
// the openai, anthropic, pythonbridge and offline subpackages.
package llm
