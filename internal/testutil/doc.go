// Package testutil provides fluent builders and platform doubles used by
// tests across the module. It is internal: production code never depends on
// it.
package testutil
