// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing messages and tools. These helpers are
// not intended for production usage.
package testutil
