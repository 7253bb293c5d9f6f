package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrCyclicHierarchy indicates a parent link would close a loop in the tree.
	ErrCyclicHierarchy = errors.New("entity: cyclic hierarchy")
	// ErrInvalidParent indicates the referenced parent does not exist or a second root was offered.
	ErrInvalidParent = errors.New("entity: invalid parent")
	// ErrDuplicateID indicates the entity id is already taken.
	ErrDuplicateID = errors.New("entity: duplicate id")
	// ErrInvalidOwnership indicates an ownership percentage outside [0,100].
	ErrInvalidOwnership = errors.New("entity: ownership must be within 0 and 100")
	// ErrUnknownEntity indicates the entity id is not part of the graph.
	ErrUnknownEntity = errors.New("entity: unknown entity")
	// ErrHasChildren indicates a removal was attempted before re-parenting the children.
	ErrHasChildren = errors.New("entity: entity still has children")
	// ErrHasHistory indicates a removal was attempted while intercompany transactions reference the entity.
	ErrHasHistory = errors.New("entity: entity has intercompany history")
)

// StructuralError reports a rejected change to the ownership tree.
type StructuralError struct {
	EntityID string
	Err      error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%v (entity %s)", e.Err, e.EntityID)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// NewStructuralError wraps err for the entity id.
func NewStructuralError(id string, err error) error {
	return structural(id, err)
}

func structural(id string, err error) error {
	return &StructuralError{EntityID: id, Err: err}
}
