// Package testutil contains helper builders and stub agents used across
// tests to reduce boilerplate when constructing tasks, messages and agent
// behaviors. These helpers are intentionally minimal and avoid adding
// third-party dependencies. They are not intended for production usage.
package testutil
