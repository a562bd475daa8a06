// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (keys, messages, session types), the capability
// interfaces both license engines implement, and the error taxonomy every
// layer classifies failures with.
package domain
