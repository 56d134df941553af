// Package cron runs named periodic jobs on cron expressions. A single
// goroutine keeps a min-heap of pending events ordered by trigger time and
// sleeps at most 60 seconds at a time, so clock steps, DST transitions and
// system sleep only delay a job by that much.
//
// The daemon uses it for log rotation. Nothing is persisted: jobs are
// registered again on every start.
package cron
