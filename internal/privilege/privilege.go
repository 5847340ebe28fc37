// Package privilege implements the audited group elevation every
// Production write must run inside: entry switches the effective group
// to the project's upload group and appends an audit line; exit
// restores the prior group and logs the duration. Work-side operations
// must never run inside a privilege scope.
package privilege

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/re-cinq/cccopy/internal/cccerr"
)

// Scope is an entered privilege elevation. Exit restores the effective
// group recorded at entry.
type Scope struct {
	log       zerolog.Logger
	actor     string
	group     string
	reason    string
	priorGID  int
	enteredAt time.Time
	setegid   func(int) error
}

// defaultSetegid, defaultGetegid, and defaultLookupGID are swapped out
// in tests, since actually changing the process's effective group
// requires privileges a test process rarely has.
var (
	defaultSetegid   = syscall.Setegid
	defaultGetegid   = syscall.Getegid
	defaultLookupGID = lookupGroupID
)

// WithProductionPrivilege enters a privilege scope for group, logging an
// audit line on entry, and returns the Scope. Callers must call Exit()
// on every code path, typically via defer, so the effective group is
// always restored.
func WithProductionPrivilege(actor, group, reason string, log zerolog.Logger) (*Scope, error) {
	return withProductionPrivilege(actor, group, reason, log, defaultSetegid, defaultGetegid, defaultLookupGID)
}

func withProductionPrivilege(actor, group, reason string, log zerolog.Logger, setegid func(int) error, getegid func() int, lookupGID func(string) (int, error)) (*Scope, error) {
	priorGID := getegid()

	targetGID, err := lookupGID(group)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving group %q: %v", cccerr.ErrConfigError, group, err)
	}

	enteredAt := time.Now()
	log.Info().
		Str("actor", actor).
		Str("target_group", group).
		Str("reason", reason).
		Time("ts_enter", enteredAt).
		Msg("privilege scope entered")

	if err := setegid(targetGID); err != nil {
		return nil, fmt.Errorf("switching effective group to %q: %w", group, err)
	}

	return &Scope{
		log:       log,
		actor:     actor,
		group:     group,
		reason:    reason,
		priorGID:  priorGID,
		enteredAt: enteredAt,
		setegid:   setegid,
	}, nil
}

// Exit restores the effective group recorded at entry and logs the exit
// audit line. If restoration fails, Exit aborts the process immediately:
// the process may still hold elevated Production write access and must
// not continue.
func (s *Scope) Exit() {
	durationMs := time.Since(s.enteredAt).Milliseconds()

	if err := s.setegid(s.priorGID); err != nil {
		s.log.Error().
			Str("actor", s.actor).
			Str("target_group", s.group).
			Err(err).
			Msg("failed to restore effective group")
		fmt.Fprintf(os.Stderr, "cccopy: %v: could not restore group after %s: %v\n", cccerr.ErrPermissionFatal, s.group, err)
		os.Exit(4)
	}

	s.log.Info().
		Str("actor", s.actor).
		Str("target_group", s.group).
		Int64("duration_ms", durationMs).
		Msg("privilege scope exited")
}

// LookupGroupID resolves an OS group name to its numeric GID. Exported
// for callers, such as the sync pipeline's chgrp step, that need a GID
// without entering a full privilege scope.
func LookupGroupID(name string) (int, error) {
	return lookupGroupID(name)
}

func lookupGroupID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
