package scheduler

// Package scheduler provides background job management for the backend.
// It handles:
// - Hourly expired-alert sweeps
// - Periodic quote snapshot archiving
// - Weekly trigger history cleanup
//
// The main scheduler is implemented in jobs.go
