// Package api serves the quota usage REST API: quota records, daily report
// uploads, utilization reports and exports, and sync runs.
package api
