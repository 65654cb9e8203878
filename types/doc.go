// Package types defines the shared vocabulary of the framework:
// structured errors with stable codes and the closed set of human
// input kinds accepted at interrupt points.
package types
