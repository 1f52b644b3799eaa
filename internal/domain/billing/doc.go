// Package billing provides the domain model for the asynchronous billing
// pipeline.
//
// The pipeline moves money through two aggregates:
//   - BillingRecord: a single charge moving through a bounded-retry state
//     machine (PENDING -> PROCESSING -> COMPLETED | FAILED)
//   - Invoice: completed charges rolled up per customer, currency and
//     time window
//
// Value Objects:
//   - Window: a fixed-size invoicing time window anchored at the top of
//     the hour
//
// The package also defines the ports the application layer drives:
// RecordStore and InvoiceStore (keyed full-overwrite storage), Queue
// (at-least-once work queue with SQS semantics), RecordProcessor (the
// downstream charging hook) and RecordLock (optional cross-worker
// serialization per record id).
package billing
