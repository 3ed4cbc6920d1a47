package follower

import "context"

// needsFullSnapshot evaluates the snapshot-reconciliation decision rules in
// order, short circuiting on the first that holds. refresh may be nil in
// tests that don't exercise the operator-triggered rebuild path.
func (l *FollowerLoop) needsFullSnapshot(ctx context.Context, maxNotificationID int64) (bool, error) {
	notificationsEmpty, err := l.gateway.IsNotificationsEmpty(ctx)
	if err != nil {
		return false, err
	}
	if notificationsEmpty {
		l.logger.Debug("full snapshot required: no notifications persisted")
		return true, nil
	}

	if l.cfg.HDFSSyncEnabled {
		pathSnapshotEmpty, perr := l.gateway.IsPathSnapshotEmpty(ctx)
		if perr != nil {
			return false, perr
		}
		if pathSnapshotEmpty {
			l.logger.Debug("full snapshot required: hdfs-sync enabled and path snapshot empty")
			return true, nil
		}
	}

	currentID, err := l.client.CurrentNotificationID(ctx)
	if err != nil {
		return false, err
	}
	if currentID < maxNotificationID {
		l.logger.Warn("full snapshot required: upstream notification id rewound",
			"upstream_current_id", currentID,
			"max_notification_id", maxNotificationID,
		)
		return true, nil
	}

	if l.refresh != nil && l.refresh.TestAndClear() {
		l.logger.Info("full snapshot required: operator-triggered refresh")
		return true, nil
	}

	return false, nil
}

// takeSnapshot fetches a full snapshot from the upstream client, persists it
// (subject to a leadership re-check and the HDFS-sync flag), and wakes
// waiters. It returns the
// resulting image id, or EmptyID if the snapshot was abandoned because
// leadership was lost between fetching and persisting.
//
// Callers must have already called l.status.BeginFullUpdate() and must
// defer l.status.EndFullUpdate(); this function does not manage that flag
// itself so that the mutual-exclusion contract is visible at the call site.
func (l *FollowerLoop) takeSnapshot(ctx context.Context) (int64, error) {
	result, err := l.client.FullSnapshot(ctx)
	if err != nil {
		return EmptyID, err
	}

	if len(result.PathMap) == 0 {
		l.logger.Debug("full snapshot empty, nothing persisted", "image_id", result.ImageID)
		return result.ImageID, nil
	}

	if !l.isLeader() {
		l.logger.Warn("lost leadership while taking full snapshot, abandoning", "image_id", result.ImageID)
		return EmptyID, nil
	}

	if l.cfg.HDFSSyncEnabled {
		if err := l.gateway.PersistFullImage(ctx, result.PathMap, result.ImageID); err != nil {
			return EmptyID, err
		}
	} else {
		if err := l.gateway.PersistLastProcessedID(ctx, result.ImageID); err != nil {
			return EmptyID, err
		}
	}

	l.status.SetHMSImageID(result.ImageID)
	l.counterWait.SetBaseline(result.ImageID)
	l.metrics.snapshotsTaken.Inc()

	return result.ImageID, nil
}
