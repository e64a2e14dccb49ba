// Package capture holds the core of pagesnap: URL validation, capture
// options, artifact naming, and the orchestrator that runs the headless
// engine and falls back to the rendering API when it fails.
package capture
