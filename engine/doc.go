// Package engine executes pipeline runs: run-until-interrupt advance,
// input merge on resume, and the commit-on-completion persistence rule
// that makes disconnects harmless.
package engine
