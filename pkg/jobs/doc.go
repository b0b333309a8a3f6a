// Package jobs schedules Warden's background maintenance.
//
// The reference purge walks every account and strips usage restriction
// entries that point at deleted applications or environments. The token
// purge removes expired auth tokens from SQL stores.
//
//	scheduler := jobs.NewScheduler(log, metrics)
//	purge := &jobs.ReferencePurge{Accounts: store, Purger: restrictionsSvc, Metrics: metrics, Log: log}
//	scheduler.Add(jobs.Job{Name: jobs.ReferencePurgeJob, Schedule: "0 3 * * *", Run: purge.Run})
//	scheduler.Start()
//	defer scheduler.Stop(ctx)
package jobs
