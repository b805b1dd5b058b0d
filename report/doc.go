// Package report forwards internal broker failures to Rollbar.
package report
