/*
Package auth models who is calling and what they may do.

PURPOSE:
  Every service call takes an explicit Caller. Nothing reads identity from
  ambient state: the HTTP layer parses the bearer token and passes the
  resulting Caller down.

RULES:
  AccessSelf:  the caller is the subject employee
  AccessAdmin: the caller has the admin role

  AssertRole passes when any of the allowed accesses holds.

USAGE:
  if err := auth.AssertRole(caller, employeeID, auth.AccessSelf, auth.AccessAdmin); err != nil {
      return err
  }
*/
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/holdpay/generic"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleAdmin
}

// Caller is the authenticated principal of one request.
// For employees, ID is their EmployeeID.
type Caller struct {
	ID   string
	Role Role
}

func (c Caller) IsZero() bool { return c.ID == "" }

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Admin returns a caller with the admin role. Used by tooling and tests.
func Admin(id string) Caller { return Caller{ID: id, Role: RoleAdmin} }

// Employee returns a caller acting as the given employee.
func Employee(id generic.EmployeeID) Caller { return Caller{ID: string(id), Role: RoleEmployee} }

type Access int

const (
	AccessSelf Access = iota + 1
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessSelf:
		return "self"
	case AccessAdmin:
		return "admin"
	}
	return "unknown"
}

// AssertRole checks caller against the allowed accesses for subject.
// Subject may be empty for operations that have no subject employee.
func AssertRole(caller Caller, subject generic.EmployeeID, allowed ...Access) error {
	if caller.IsZero() || !caller.Role.Valid() {
		return ErrUnauthenticated
	}
	for _, a := range allowed {
		switch a {
		case AccessAdmin:
			if caller.IsAdmin() {
				return nil
			}
		case AccessSelf:
			if subject != "" && caller.ID == string(subject) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s %s may not act on %q", ErrForbidden, caller.Role, caller.ID, subject)
}

// =============================================================================
// CONTEXT PLUMBING - HTTP layer only
// =============================================================================

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the caller stored by the HTTP middleware, or the zero
// Caller when the request was anonymous.
func FromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(ctxKey{}).(Caller)
	return c
}
