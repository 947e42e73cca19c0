// Package harvest implements the harvesting engine: the Harvester contract
// shared by the portal strategies, the cooperative stop signal, the job
// status model, the deduplication gate and the Coordinator that ties them
// to an ingestion sink.
//
// Exactly one job runs at a time. StartJob performs an atomic
// check-and-set on the running flag and returns immediately; the job
// consumes the selected harvester's record stream on its own goroutine.
// RequestStop only raises the stop flag. Harvesters poll it at batch,
// record and navigation-loop boundaries and unwind without error once it
// is observed.
package harvest
