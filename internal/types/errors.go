package types

import "errors"

// Compilation errors. All of them are surfaced synchronously to the caller
// that requested compilation; a rule set either compiles completely or fails.
var (
	// ErrUnknownRuleType indicates a rule type with no registered descriptor.
	ErrUnknownRuleType = errors.New("unknown rule type")

	// ErrUnsupportedOperator indicates an operator name missing from the catalogue
	// or illegal for the member type.
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrInvalidComparand indicates a raw value that does not parse into the declared type.
	ErrInvalidComparand = errors.New("invalid comparand")

	// ErrInvalidOperand indicates a set operator whose right side is not a constant collection.
	ErrInvalidOperand = errors.New("invalid operand")

	// ErrUntranslatableExpression indicates a node the target provider cannot represent.
	ErrUntranslatableExpression = errors.New("untranslatable expression")

	// ErrNotImplemented is raised by AllIn/NotAllIn.
	ErrNotImplemented = errors.New("operator not implemented")

	// ErrScopeMismatch indicates a descriptor bound to another entity scope.
	ErrScopeMismatch = errors.New("rule type does not belong to rule set scope")

	// ErrSubGroupRoot indicates an attempt to compile a sub-group as a top-level predicate.
	ErrSubGroupRoot = errors.New("sub-group rule set cannot be compiled standalone")

	// ErrGroupCycle indicates a sub-group that references one of its ancestors.
	ErrGroupCycle = errors.New("rule set group cycle")

	// ErrGroupTooDeep indicates sub-group nesting beyond MaxGroupDepth.
	ErrGroupTooDeep = errors.New("rule set groups nested too deeply")

	// ErrTooManyInValues indicates a set operator list beyond MaxInOperatorValues.
	ErrTooManyInValues = errors.New("set operator has too many values")

	// ErrRuleSetNotFound indicates the store has no rule set with the given ID.
	ErrRuleSetNotFound = errors.New("rule set not found")

	// ErrMissingRuleSet indicates a rule without an owning rule set.
	ErrMissingRuleSet = errors.New("rule has no rule set")

	// ErrMalformedRule indicates a rule that is neither a valid leaf nor a valid group pointer.
	ErrMalformedRule = errors.New("rule must be either a leaf or a group pointer")

	// ErrOperatorTooLong indicates Rule.Operator exceeds MaxOperatorLength.
	ErrOperatorTooLong = errors.New("rule operator too long")

	// ErrValueTooLong indicates Rule.Value exceeds MaxValueLength.
	ErrValueTooLong = errors.New("rule value too long")

	// ErrPathTooDeep indicates a member path exceeding MaxPathDepth.
	ErrPathTooDeep = errors.New("member path exceeds maximum depth")

	// ErrTooManyCollections indicates a member path exceeding MaxNestedCollections.
	ErrTooManyCollections = errors.New("member path has too many collection segments")

	// ErrInvalidMemberPath indicates a malformed descriptor member path.
	ErrInvalidMemberPath = errors.New("invalid member path")

	// ErrCoercionFailed indicates an entity member value of an unexpected runtime type.
	ErrCoercionFailed = errors.New("type coercion failed")
)
