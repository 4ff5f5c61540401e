// Package dispatch fans a message out to the selected agents concurrently.
//
// Every agent call runs in its own goroutine under its own deadline. A slow
// or failing agent never delays or cancels its siblings, and results come
// back in selection order regardless of completion order. Provider rate
// limits (core.ErrRateLimited) are retried with exponential backoff within
// the agent's deadline; timeouts and all other errors are final.
package dispatch
