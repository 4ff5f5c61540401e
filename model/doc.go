// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language models inside AgentRelay.
//
// Core goals:
//   - Hide vendor SDKs behind a single Generate call
//   - Keep request/response shapes minimal and transport independent
//   - Normalize provider rate-limit responses to core.ErrRateLimited
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (agents, synthesis) remain decoupled from vendor SDKs.
package model
