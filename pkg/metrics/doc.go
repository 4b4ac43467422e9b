/*
Package metrics provides Prometheus metrics and component health for modlog.

All metrics are package variables registered with the default Prometheus
registry at init and exposed by Handler on /metrics.

# Metrics Catalog

modlog_mutations_total{kind, result}:
  - Mutations applied by the worker
  - kind: add, edit, delete, renumber, replace_media, restore
  - result: success, failure, conflict

modlog_mutation_duration_seconds{kind}:
  - Time the worker spent applying one mutation

modlog_conflicts_total:
  - Edits and deletes refused because another actor changed the log
    inside the conflict window

modlog_validation_rejections_total{field}:
  - Operator input rejected by the validation engine

modlog_bridge_queue_depth:
  - Mutations waiting on the intake queue

modlog_bridge_timeouts_total:
  - Callers that stopped waiting before the worker answered. The
    mutation may still be applied later.

modlog_backups_total{trigger, result}:
  - trigger: scheduled, manual, pre_restore

modlog_backup_duration_seconds:
  - Snapshot, verification and archiving time

modlog_backup_archives, modlog_log_entries:
  - Sampled by Collector every 15s

# Timer

	timer := metrics.NewTimer()
	outcome := apply(m)
	timer.ObserveDurationVec(metrics.MutationDuration, string(m.Kind))

# Health

Components report their state with RegisterComponent / UpdateComponent.
The server registers "store", "bridge" and "backup". /health is unhealthy
when any component is; /ready additionally requires the critical components
"store" and "bridge" to be registered and healthy.
*/
package metrics
