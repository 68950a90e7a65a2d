// Package repository provides a generic repository abstraction built on Bun
// for record CRUD with optional soft deletion, polymorphic updates, raw
// querying, pagination, transactions, and upsert support.
package repository
