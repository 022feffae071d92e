// Package api serves the task manager over HTTP: task submission,
// status, cancellation, and health and metrics endpoints.
package api
