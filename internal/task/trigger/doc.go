// Package trigger queues translation batches on cron schedules.
//
// It only decides when and what to queue. Execution, preemption and rate
// limiting stay with the batch service.
package trigger
