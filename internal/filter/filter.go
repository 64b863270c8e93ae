// Package filter turns a resolved scope plus caller-supplied filters into
// store queries, enforcing that restricted callers can narrow results but
// never widen them.
package filter

import (
	"errors"

	"leonadmin/api/internal/reconcile"
	"leonadmin/api/internal/scope"
	"leonadmin/api/internal/store"
)

// ErrScopeInvalid is returned for tokens whose scope could not be resolved.
// It must surface as Forbidden before any query runs.
var ErrScopeInvalid = errors.New("scope invalid")

// BuildEmployeeQuery applies the scope to a requested employee query. A
// restricted scope overwrites any department/location the caller asked for.
func BuildEmployeeQuery(sc scope.Scope, req store.EmployeeQuery) (store.EmployeeQuery, error) {
	switch sc.Kind {
	case scope.Unrestricted:
		return req, nil
	case scope.Restricted:
		req.Department = sc.Department
		req.Location = sc.Location
		return req, nil
	default:
		return store.EmployeeQuery{}, ErrScopeInvalid
	}
}

func BuildDocumentRequestQuery(sc scope.Scope, req store.DocumentRequestQuery) (store.DocumentRequestQuery, error) {
	switch sc.Kind {
	case scope.Unrestricted:
		return req, nil
	case scope.Restricted:
		req.Department = sc.Department
		req.Location = sc.Location
		return req, nil
	default:
		return store.DocumentRequestQuery{}, ErrScopeInvalid
	}
}

func BuildNewsQuery(sc scope.Scope, publishedOnly bool) (store.NewsQuery, error) {
	switch sc.Kind {
	case scope.Unrestricted:
		return store.NewsQuery{PublishedOnly: publishedOnly}, nil
	case scope.Restricted:
		return store.NewsQuery{Department: sc.Department, Location: sc.Location, PublishedOnly: publishedOnly}, nil
	default:
		return store.NewsQuery{}, ErrScopeInvalid
	}
}

// BuildConversationQuery keeps only the filters the store can evaluate.
// Scope is deliberately absent: legacy records cannot be scoped in SQL, so
// candidates are admitted per record via AdmitConversation.
func BuildConversationQuery(sc scope.Scope, status, keyword string) (store.ConversationQuery, error) {
	if !sc.IsValid() {
		return store.ConversationQuery{}, ErrScopeInvalid
	}
	return store.ConversationQuery{Status: status, Keyword: keyword}, nil
}

// AdmitConversation decides whether a scope may see a conversation.
// Records whose legacy fields cannot be reconciled are admitted for every
// valid scope so un-migrated data never vanishes from inboxes.
func AdmitConversation(sc scope.Scope, c store.Conversation) bool {
	if !sc.IsValid() {
		return false
	}
	target, ok := reconcile.Effective(c.TargetDepartment, c.TargetLocation, c.Category, c.Service)
	if !ok {
		return true
	}
	return sc.Allows(target.Department, target.Location)
}
