// Package planner turns natural language requests into validated
// operation plans using a chat model.
package planner
