package exam

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrTestNotFound          = errors.New("test not found")
	ErrGroupNotFound         = errors.New("group not found")
	ErrAttemptNotFound       = errors.New("attempt not found")
	ErrQuestionNotInTest     = errors.New("question not in test")
	ErrAlreadyCompleted      = errors.New("test already completed")
	ErrAlreadyClosed         = errors.New("attempt already closed")
	ErrDeadlinePassed        = errors.New("test deadline has passed")
	ErrInsufficientQuestions = errors.New("insufficient questions")
	ErrNoQuestionsAvailable  = errors.New("no questions available for this test")
	ErrQuestionAlreadyInTest = errors.New("question already in test")
	ErrNotInGroup            = errors.New("user is not a member of any group")
	ErrTestHasAttempts       = errors.New("test already has attempts")
)

// InsufficientQuestionsError reports how far the matching pool falls short of
// a generation request.
type InsufficientQuestionsError struct {
	Found    int
	Required int
}

func (e *InsufficientQuestionsError) Error() string {
	return fmt.Sprintf("insufficient questions: found %d, required %d", e.Found, e.Required)
}

func (e *InsufficientQuestionsError) Unwrap() error {
	return ErrInsufficientQuestions
}
