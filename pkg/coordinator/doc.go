/*
Package coordinator implements the work-coordination batch call that every
instance drives its polling cycle through.

One ProcessWorkBatch call does all of the following atomically:

 1. upserts the caller's heartbeat in wb_service_instances
 2. reaps instances past the stale threshold and releases their leases
 3. persists reported completions (role completion bit, processed_at) and
    failures (failure_reason, error; terminal 0x8000 when the reason is
    not retryable or the attempt budget is spent)
 4. inserts new outbox/inbox rows, partitioned by stream hash and
    deduplicated against wb_message_deduplication
 5. extends leases for long-running work the caller still owns
 6. claims the next claimable rows in (stream_id, created_at) order,
    honoring the per-stream gate: no row is claimed while an earlier row
    for the same stream is non-terminal
 7. projects the claimed rows into the returned WorkBatch

Because everything commits together, a completion report is never lost
independently of a claim, and one transaction per polling cycle amortizes
round-trips. The call is idempotent: a caller that times out after commit
replays the identical request and gets the next batch.

Two implementations share the semantics: Postgres for multi-instance
deployments and Memory for the embedded single-process mode, which can
persist its state through pkg/storage. SQLLog persists level-gated
coordinator log rows in wb_log for operator inspection.
*/
package coordinator
