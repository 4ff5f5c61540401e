// Package testutil contains helper builders and stubs used across tests to
// reduce boilerplate when constructing conversations, agents and classifiers.
// These helpers are intentionally minimal and are not intended for
// production usage.
package testutil
