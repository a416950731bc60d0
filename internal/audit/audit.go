// Package audit records security-relevant server events (auth failures,
// machine removal, trash purges) to a dedicated logrus logger, separate
// from the zerolog operational log so audit trails can be shipped and
// retained independently.
package audit

import (
	"github.com/sirupsen/logrus"
)

// Log is the audit trail. It wraps logrus the way the REST layer's request
// logging does, but every entry carries an "audit_event" field so log
// shippers can route it to a separate, longer-retention sink.
type Log struct {
	logger *logrus.Logger
}

// New creates an audit log writing structured JSON entries.
func New() *Log {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Log{logger: logger}
}

// AuthFailure records a rejected bearer token.
func (l *Log) AuthFailure(remoteAddr, path, reason string) {
	l.logger.WithFields(logrus.Fields{
		"audit_event": "auth_failure",
		"remote_addr": remoteAddr,
		"path":        path,
		"reason":      reason,
	}).Warn("authentication rejected")
}

// MachineRegistered records a successful machine registration.
func (l *Log) MachineRegistered(machineID int64, name, platform string) {
	l.logger.WithFields(logrus.Fields{
		"audit_event": "machine_registered",
		"machine_id":  machineID,
		"name":        name,
		"platform":    platform,
	}).Info("machine registered")
}

// MachineDeleted records a machine removal, and by whom.
func (l *Log) MachineDeleted(machineID int64, actorMachineID int64) {
	l.logger.WithFields(logrus.Fields{
		"audit_event":      "machine_deleted",
		"machine_id":       machineID,
		"actor_machine_id": actorMachineID,
	}).Warn("machine deleted")
}

// TrashPurged records a trash-purge sweep.
func (l *Log) TrashPurged(count int) {
	l.logger.WithFields(logrus.Fields{
		"audit_event": "trash_purged",
		"count":       count,
	}).Info("trash purged")
}

// TokenRevoked records a bearer token being revoked.
func (l *Log) TokenRevoked(machineID int64) {
	l.logger.WithFields(logrus.Fields{
		"audit_event": "token_revoked",
		"machine_id":  machineID,
	}).Warn("token revoked")
}
