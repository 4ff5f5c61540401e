// Package session houses concrete implementations of core.SessionStore.
//
// InMemoryStore keeps conversations in process memory, SQLiteStore persists
// them to a local database file and PostgresStore to a shared PostgreSQL
// server. Janitor expires idle conversations from any of them.
package session
