package service

import (
	"expensedesk/backend/internal/domain"
)

type Kind string

const (
	KindRole        Kind = "role"
	KindCategory    Kind = "category"
	KindItem        Kind = "item"
	KindExpense     Kind = "expense"
	KindOrder       Kind = "order"
	KindTransaction Kind = "transaction"
	KindReport      Kind = "report"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionReview sets an expense's verification or refund state.
	ActionReview Action = "review"
)

// Resource identifies what an action targets. OwnerID is zero for shared
// reference data and for records that do not exist yet.
type Resource struct {
	Kind    Kind
	OwnerID int64
}

func owned(kind Kind, ownerID int64) Resource {
	return Resource{Kind: kind, OwnerID: ownerID}
}

// Authorize is the single capability check in front of every read scope and
// mutation. Admins may do anything; everyone else is limited to reading
// reference data, creating their own records, and touching records they own.
func Authorize(actor domain.Actor, res Resource, action Action) error {
	if actor.UserID == 0 {
		return ErrUnauthenticated
	}
	if actor.IsAdmin() {
		return nil
	}

	switch res.Kind {
	case KindRole, KindCategory, KindItem:
		if action == ActionRead {
			return nil
		}
		return permissionErrorf("only admins may %s a %s", action, res.Kind)
	case KindReport:
		if action == ActionRead {
			return nil
		}
	case KindExpense, KindOrder, KindTransaction:
		if action == ActionReview {
			return permissionErrorf("only admins may verify or refund an expense")
		}
		if action == ActionCreate {
			return nil
		}
		if res.OwnerID == actor.UserID {
			return nil
		}
		return permissionErrorf("%s belongs to another user", res.Kind)
	}
	return permissionErrorf("%s on %s is not allowed", action, res.Kind)
}
