package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/unitkey/unitkey-core/internal/directory"
)

// ErrUnknownRole is returned when the identity carries a role outside the
// closed set. New roles must be added here deliberately, never defaulted.
var ErrUnknownRole = errors.New("unknown role")

// SharedGrant is the slice of a sharing grant the resolver needs: which unit
// it opens and who delegated it.
type SharedGrant struct {
	UnitID    string
	GrantorID string
}

// GrantSource supplies the caller's active, unexpired sharing grants.
// Implemented by the sharing repository.
type GrantSource interface {
	ActiveGrantsForUser(ctx context.Context, userID string, now time.Time) ([]SharedGrant, error)
}

// ScheduleGate answers whether a facility admits the user at the given
// instant, from any time-window schedule defined for them (business hours,
// lockdown windows). A nil gate admits everything.
type ScheduleGate interface {
	FacilityOpen(ctx context.Context, userID, facilityID string, at time.Time) (bool, error)
}

// Resolver computes the audience list for a caller from the directory, the
// sharing ledger, and an optional schedule gate.
type Resolver struct {
	directory directory.Repository
	grants    GrantSource
	schedule  ScheduleGate
	logger    *slog.Logger
}

// NewResolver creates an access resolver. schedule may be nil.
func NewResolver(dir directory.Repository, grants GrantSource, schedule ScheduleGate, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory: dir,
		grants:    grants,
		schedule:  schedule,
		logger:    logger.With("component", "access"),
	}
}

// Resolve returns the audiences the identity may present to locks at the
// given instant. The list is deterministic: primary lock audiences ascending
// by lock id, then shared-key audiences ascending by lock id. An empty list
// is a valid result.
func (r *Resolver) Resolve(ctx context.Context, identity Identity, now time.Time) ([]string, error) {
	switch identity.Role {
	case RoleAdmin:
		return r.resolveAllLocks(ctx, identity.UserID, now)
	case RoleFacilityAdmin, RoleMaintenance:
		return r.resolveFacilities(ctx, identity.UserID, identity.FacilityIDs, now)
	case RoleTenant:
		return r.resolveTenant(ctx, identity.UserID, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, identity.Role)
	}
}

// resolveAllLocks grants every lock in the system, still subject to each
// facility's schedule gate.
func (r *Resolver) resolveAllLocks(ctx context.Context, userID string, now time.Time) ([]string, error) {
	locks, err := r.directory.AllLocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving admin locks: %w", err)
	}
	return r.lockAudiences(ctx, userID, locks, now)
}

// resolveFacilities grants every lock in the scoped facilities.
func (r *Resolver) resolveFacilities(ctx context.Context, userID string, facilityIDs []string, now time.Time) ([]string, error) {
	locks, err := r.directory.LocksForFacilities(ctx, facilityIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving facility locks: %w", err)
	}
	return r.lockAudiences(ctx, userID, locks, now)
}

// resolveTenant grants the locks on units where the caller is primary
// tenant, then the locks reachable through active sharing grants.
func (r *Resolver) resolveTenant(ctx context.Context, userID string, now time.Time) ([]string, error) {
	units, err := r.directory.UnitsWherePrimary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving primary units: %w", err)
	}

	var primary []string
	for _, unit := range units {
		open, err := r.facilityOpen(ctx, userID, unit.FacilityID, now)
		if err != nil {
			return nil, err
		}
		if !open {
			continue
		}

		locks, err := r.directory.LocksForUnit(ctx, unit.ID)
		if err != nil {
			return nil, fmt.Errorf("resolving unit locks: %w", err)
		}
		for _, lock := range locks {
			primary = append(primary, "lock:"+lock.ID)
		}
	}
	sort.Strings(primary)

	grants, err := r.grants.ActiveGrantsForUser(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("resolving sharing grants: %w", err)
	}

	var shared []sharedAudience
	for _, grant := range grants {
		facilityID, err := r.directory.FacilityOfUnit(ctx, grant.UnitID)
		if err != nil {
			if errors.Is(err, directory.ErrUnitNotFound) {
				// Grant outlived its unit; skip rather than fail the pass.
				r.logger.Warn("sharing grant references missing unit", "unit_id", grant.UnitID)
				continue
			}
			return nil, fmt.Errorf("resolving grant facility: %w", err)
		}

		open, err := r.facilityOpen(ctx, userID, facilityID, now)
		if err != nil {
			return nil, err
		}
		if !open {
			continue
		}

		locks, err := r.directory.LocksForUnit(ctx, grant.UnitID)
		if err != nil {
			return nil, fmt.Errorf("resolving shared unit locks: %w", err)
		}
		for _, lock := range locks {
			shared = append(shared, sharedAudience{
				lockID:   lock.ID,
				audience: "shared_key:" + grant.GrantorID + ":" + lock.ID,
			})
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].lockID != shared[j].lockID {
			return shared[i].lockID < shared[j].lockID
		}
		return shared[i].audience < shared[j].audience
	})

	audiences := primary
	for _, s := range shared {
		audiences = append(audiences, s.audience)
	}
	if audiences == nil {
		audiences = []string{}
	}
	return audiences, nil
}

type sharedAudience struct {
	lockID   string
	audience string
}

// lockAudiences maps locks to primary audiences, applying the schedule gate
// per facility and sorting ascending by lock id.
func (r *Resolver) lockAudiences(ctx context.Context, userID string, locks []directory.Lock, now time.Time) ([]string, error) {
	// Gate decisions are per facility; cache them across locks.
	facilityOpen := make(map[string]bool)

	var audiences []string
	for _, lock := range locks {
		facilityID, err := r.directory.FacilityOfUnit(ctx, lock.UnitID)
		if err != nil {
			if errors.Is(err, directory.ErrUnitNotFound) {
				r.logger.Warn("lock references missing unit", "lock_id", lock.ID, "unit_id", lock.UnitID)
				continue
			}
			return nil, fmt.Errorf("resolving lock facility: %w", err)
		}

		open, cached := facilityOpen[facilityID]
		if !cached {
			open, err = r.facilityOpen(ctx, userID, facilityID, now)
			if err != nil {
				return nil, err
			}
			facilityOpen[facilityID] = open
		}
		if !open {
			continue
		}

		audiences = append(audiences, "lock:"+lock.ID)
	}
	sort.Strings(audiences)

	if audiences == nil {
		audiences = []string{}
	}
	return audiences, nil
}

// facilityOpen consults the schedule gate. A gate error propagates and fails
// the whole resolution; no pass is issued on a stale or guessed scope.
func (r *Resolver) facilityOpen(ctx context.Context, userID, facilityID string, at time.Time) (bool, error) {
	if r.schedule == nil {
		return true, nil
	}
	open, err := r.schedule.FacilityOpen(ctx, userID, facilityID, at)
	if err != nil {
		return false, fmt.Errorf("consulting schedule gate for facility %s: %w", facilityID, err)
	}
	return open, nil
}
