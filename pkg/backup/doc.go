/*
Package backup makes, lists, prunes and unpacks backup archives and runs
the daily backup schedule.

# Archives

An archive is a zip file in the backup directory holding two things:

  - the database snapshot, under the database's file name
  - the media directory tree, under the media directory's base name

	20240501_040000.zip
	├── logs.db
	└── media/
	    ├── 1_1.jpg
	    └── 7_2.png

The snapshot is taken with the store's online backup, which verifies the
copy before the archive is written. The archive is written to a .partial
file and renamed into place, so a listed archive is always complete.

Archive names must be portable file names: no reserved characters, no
reserved device names, no leading dot and no trailing space or dot.

# Retention

After every successful backup the oldest archives are deleted until at
most Limit remain. Age is the archive's modification time.

# Schedule

Scheduler fires once a day at Config.Time. A tick runs a backup only when
the auto switch is on and at least DelayDays days have passed since the
last successful backup. The switch is persisted in the state store and
survives restarts.

	sched, err := backup.NewScheduler(archiver, state, backup.Config{
		Time:      "04:00",
		DelayDays: 1,
		Limit:     7,
		Auto:      true,
	}, backup.WithNotifier(notify))
	sched.Start()
	defer sched.Stop(5 * time.Second)

Only one backup runs at a time. Run returns types.ErrBackupRunning while
another backup, scheduled or manual, is in progress.

# Restore

Extract unpacks an archive next to the media directory. The caller
restores the database from Unpacked.DBPath and swaps Unpacked.MediaDir
into place, then calls Cleanup.
*/
package backup
