package core

import "roadcore/pkg/domain"

type (
	Handle             = domain.Handle
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Session            = domain.Session
)

const (
	EntityNode          = domain.EntityNode
	EntityEdge          = domain.EntityEdge
	EntityConnectionSet = domain.EntityConnectionSet
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
	ActionTouch  = domain.ActionTouch
)
